// Package escalation maps risk levels onto user interventions, debouncing
// repeated alerts of the same tier.
package escalation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/terminal-bench/safetywatch/internal/risk"
)

// DefaultDebounce is the minimum gap between two interventions of the same tier.
const DefaultDebounce = 30 * time.Minute

// Tier is a band of risk levels.
type Tier int

const (
	TierSafe Tier = iota
	TierWatch
	TierReminder
	TierEmergency
)

func (t Tier) String() string {
	switch t {
	case TierSafe:
		return "SAFE"
	case TierWatch:
		return "WATCH"
	case TierReminder:
		return "REMINDER"
	case TierEmergency:
		return "EMERGENCY"
	default:
		return "UNKNOWN"
	}
}

// Label is the status text shown to the user.
func (t Tier) Label() string {
	switch t {
	case TierSafe:
		return "안전"
	case TierWatch:
		return "보통"
	case TierReminder:
		return "주의"
	case TierEmergency:
		return "위험"
	default:
		return "알 수 없음"
	}
}

// Intervenes reports whether the tier produces an intervention.
func (t Tier) Intervenes() bool {
	return t == TierReminder || t == TierEmergency
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	for c := TierSafe; c <= TierEmergency; c++ {
		if c.String() == string(b) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("escalation: unknown tier %q", b)
}

// TierFor maps a risk level onto its band: 0-2 safe, 3-5 watch, 6-7 reminder,
// 8-10 emergency. Out-of-range levels are clamped first.
func TierFor(level int) Tier {
	switch level = risk.ClampLevel(level); {
	case level >= 8:
		return TierEmergency
	case level >= 6:
		return TierReminder
	case level >= 3:
		return TierWatch
	default:
		return TierSafe
	}
}

// State is the escalation memory of one engine. LastFiredTier is set when an
// intervention fires and cleared whenever a cycle lands in a non-intervening
// tier; LastFiredAt is only ever moved forward by a firing.
type State struct {
	Tier          Tier       `json:"tier"`
	LastFiredTier *Tier      `json:"last_fired_tier,omitempty"`
	LastFiredAt   *time.Time `json:"last_fired_at,omitempty"`
}

// Initial returns the starting state.
func Initial() State {
	return State{Tier: TierSafe}
}

// Intervention is a user-facing prompt raised by an elevated tier.
type Intervention struct {
	ID              string    `json:"id"`
	Tier            Tier      `json:"tier"`
	RiskLevel       int       `json:"risk_level"`
	Recommendations []string  `json:"recommendations"`
	Message         string    `json:"message"`
	IssuedAt        time.Time `json:"issued_at"`
}

// Transition advances state for a newly scored level. An intervention is
// returned only for reminder/emergency tiers, and only when the tier differs
// from the last fired one or the debounce window has elapsed since it fired.
// Dropping to safe or watch clears the last fired tier, so climbing back
// re-fires immediately.
func Transition(res risk.Result, state State, now time.Time, window time.Duration) (State, *Intervention) {
	if window <= 0 {
		window = DefaultDebounce
	}
	candidate := TierFor(res.RiskLevel)
	next := State{Tier: candidate, LastFiredTier: state.LastFiredTier, LastFiredAt: state.LastFiredAt}

	if !candidate.Intervenes() {
		next.LastFiredTier = nil
		return next, nil
	}

	sameTier := state.LastFiredTier != nil && *state.LastFiredTier == candidate
	withinWindow := state.LastFiredAt != nil && now.Sub(*state.LastFiredAt) <= window
	if sameTier && withinWindow {
		return next, nil
	}

	fired := candidate
	firedAt := now
	next.LastFiredTier = &fired
	next.LastFiredAt = &firedAt

	recs := res.Recommendations
	if len(recs) == 0 {
		recs = risk.Recommendations(res.RiskLevel)
	}
	return next, &Intervention{
		ID:              uuid.NewString(),
		Tier:            candidate,
		RiskLevel:       risk.ClampLevel(res.RiskLevel),
		Recommendations: append([]string(nil), recs...),
		Message:         message(candidate, recs),
		IssuedAt:        now,
	}
}

func message(tier Tier, recs []string) string {
	first := ""
	if len(recs) > 0 {
		first = recs[0]
	}
	if tier == TierEmergency {
		return first + "\n\n3분 내에 응답하지 않으면 비상연락처에 자동으로 알림이 전송됩니다."
	}
	return first + "\n\n오늘 하루는 어떻게 보내고 계신가요?"
}
