package signals

import (
	"context"
	"sync"
	"time"
)

// UsageTracker accumulates app-usage counters fed by the host app. Counters
// belong to the current local day and reset on the first access after midnight.
type UsageTracker struct {
	mu           sync.Mutex
	now          func() time.Time
	day          time.Time
	screenTime   time.Duration
	opens        int
	lastActivity time.Time
}

// NewUsageTracker creates a tracker. now may be nil.
func NewUsageTracker(now func() time.Time) *UsageTracker {
	if now == nil {
		now = time.Now
	}
	return &UsageTracker{now: now}
}

// RecordOpen counts one app launch.
func (t *UsageTracker) RecordOpen() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.rollLocked()
	t.opens++
	t.lastActivity = now
}

// AddScreenTime adds foreground time. Negative durations are ignored.
func (t *UsageTracker) AddScreenTime(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.rollLocked()
	t.screenTime += d
	t.lastActivity = now
}

// Usage implements UsageSource.
func (t *UsageTracker) Usage(ctx context.Context) (Usage, error) {
	if err := ctx.Err(); err != nil {
		return Usage{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollLocked()
	return Usage{
		ScreenTimeMinutes: int(t.screenTime / time.Minute),
		AppOpenCount:      t.opens,
		LastActivity:      t.lastActivity,
	}, nil
}

func (t *UsageTracker) rollLocked() time.Time {
	now := t.now()
	day := startOfDay(now)
	if !day.Equal(t.day) {
		t.day = day
		t.screenTime = 0
		t.opens = 0
	}
	return now
}

func startOfDay(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
}
