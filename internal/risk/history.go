package risk

import "sync"

// HistoryCapacity is the number of results kept.
const HistoryCapacity = 10

// Trend describes the direction of recent risk levels.
type Trend string

const (
	TrendUnknown Trend = "unknown"
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

// History is a bounded, newest-first log of results. When full, pushing a new
// result evicts the oldest one.
type History struct {
	mu      sync.RWMutex
	entries []Result
	cap     int
}

// NewHistory creates an empty history with HistoryCapacity slots.
func NewHistory() *History {
	return &History{cap: HistoryCapacity}
}

// Push prepends r, dropping the oldest entry on overflow.
func (h *History) Push(r Result) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append([]Result{r.Clone()}, h.entries...)
	if len(h.entries) > h.cap {
		h.entries = h.entries[:h.cap]
	}
}

// Restore replaces the contents with entries (newest first), truncated to capacity.
func (h *History) Restore(entries []Result) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(entries) > h.cap {
		entries = entries[:h.cap]
	}
	h.entries = make([]Result, len(entries))
	for i, r := range entries {
		h.entries[i] = r.Clone()
	}
}

// Entries returns a copy, newest first.
func (h *History) Entries() []Result {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Result, len(h.entries))
	for i, r := range h.entries {
		out[i] = r.Clone()
	}
	return out
}

// Latest returns the newest result.
func (h *History) Latest() (Result, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.entries) == 0 {
		return Result{}, false
	}
	return h.entries[0].Clone(), true
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Average is the mean risk level, or 0 when empty.
func (h *History) Average() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.entries) == 0 {
		return 0
	}
	sum := 0
	for _, r := range h.entries {
		sum += r.RiskLevel
	}
	return float64(sum) / float64(len(h.entries))
}

// Trend compares the newest level with the mean of the older ones. A
// difference within one level counts as stable.
func (h *History) Trend() Trend {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.entries) < 2 {
		return TrendUnknown
	}
	older := h.entries[1:]
	sum := 0
	for _, r := range older {
		sum += r.RiskLevel
	}
	diff := float64(h.entries[0].RiskLevel) - float64(sum)/float64(len(older))
	switch {
	case diff > 1:
		return TrendRising
	case diff < -1:
		return TrendFalling
	default:
		return TrendStable
	}
}
