package escalation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/safetywatch/internal/risk"
)

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func level(n int) risk.Result {
	return risk.Result{RiskLevel: n, Recommendations: risk.Recommendations(n)}
}

func TestTierFor(t *testing.T) {
	t.Run("should use inclusive bands", func(t *testing.T) {
		want := []Tier{
			TierSafe, TierSafe, TierSafe,
			TierWatch, TierWatch, TierWatch,
			TierReminder, TierReminder,
			TierEmergency, TierEmergency, TierEmergency,
		}
		for lvl, tier := range want {
			assert.Equal(t, tier, TierFor(lvl), "level %d", lvl)
		}
	})

	t.Run("should clamp out-of-range levels", func(t *testing.T) {
		assert.Equal(t, TierSafe, TierFor(-4))
		assert.Equal(t, TierEmergency, TierFor(42))
	})

	t.Run("should label tiers", func(t *testing.T) {
		assert.Equal(t, "안전", TierSafe.Label())
		assert.Equal(t, "위험", TierEmergency.Label())
	})

	t.Run("should round-trip through JSON", func(t *testing.T) {
		b, err := json.Marshal(TierReminder)
		require.NoError(t, err)
		assert.Equal(t, `"REMINDER"`, string(b))

		var got Tier
		require.NoError(t, json.Unmarshal(b, &got))
		assert.Equal(t, TierReminder, got)
		assert.Error(t, json.Unmarshal([]byte(`"PANIC"`), &got))
	})
}

func TestTransition(t *testing.T) {
	t.Run("should start safe", func(t *testing.T) {
		s := Initial()
		assert.Equal(t, TierSafe, s.Tier)
		assert.Nil(t, s.LastFiredTier)
		assert.Nil(t, s.LastFiredAt)
	})

	t.Run("should never intervene at or below five", func(t *testing.T) {
		s := Initial()
		now := t0
		for i, lvl := range []int{0, 3, 5, 2, 5, 4} {
			var iv *Intervention
			s, iv = Transition(level(lvl), s, now, DefaultDebounce)
			assert.Nil(t, iv, "cycle %d", i)
			now = now.Add(time.Hour)
		}
		assert.Equal(t, TierWatch, s.Tier)
	})

	t.Run("should debounce a sustained emergency", func(t *testing.T) {
		s, iv := Transition(level(9), Initial(), t0, DefaultDebounce)
		require.NotNil(t, iv)
		assert.Equal(t, TierEmergency, iv.Tier)
		assert.Equal(t, 9, iv.RiskLevel)
		assert.Contains(t, iv.Message, "즉시 안전을 확인해주세요")
		assert.NotEmpty(t, iv.ID)

		for _, after := range []time.Duration{5 * time.Minute, 15 * time.Minute, 30 * time.Minute} {
			var again *Intervention
			s, again = Transition(level(9), s, t0.Add(after), DefaultDebounce)
			assert.Nil(t, again, "after %v", after)
		}
		assert.Equal(t, t0, *s.LastFiredAt)

		s, iv = Transition(level(9), s, t0.Add(31*time.Minute), DefaultDebounce)
		require.NotNil(t, iv)
		assert.Equal(t, t0.Add(31*time.Minute), *s.LastFiredAt)
	})

	t.Run("should fire when the tier changes", func(t *testing.T) {
		s, iv := Transition(level(6), Initial(), t0, DefaultDebounce)
		require.NotNil(t, iv)
		assert.Equal(t, TierReminder, iv.Tier)
		assert.Contains(t, iv.Message, "오늘 하루는 어떻게 보내고 계신가요?")

		s, iv = Transition(level(8), s, t0.Add(time.Minute), DefaultDebounce)
		require.NotNil(t, iv)
		assert.Equal(t, TierEmergency, iv.Tier)

		_, iv = Transition(level(7), s, t0.Add(2*time.Minute), DefaultDebounce)
		require.NotNil(t, iv)
		assert.Equal(t, TierReminder, iv.Tier)
	})

	t.Run("should re-fire after risk drops and climbs back", func(t *testing.T) {
		s, iv := Transition(level(9), Initial(), t0, DefaultDebounce)
		require.NotNil(t, iv)

		s, iv = Transition(level(2), s, t0.Add(5*time.Minute), DefaultDebounce)
		assert.Nil(t, iv)
		assert.Equal(t, TierSafe, s.Tier)
		assert.Nil(t, s.LastFiredTier)
		require.NotNil(t, s.LastFiredAt)

		_, iv = Transition(level(9), s, t0.Add(10*time.Minute), DefaultDebounce)
		assert.NotNil(t, iv)
	})

	t.Run("should not alias previous state", func(t *testing.T) {
		first, _ := Transition(level(9), Initial(), t0, DefaultDebounce)
		second, _ := Transition(level(7), first, t0.Add(time.Minute), DefaultDebounce)

		assert.Equal(t, TierEmergency, *first.LastFiredTier)
		assert.Equal(t, TierReminder, *second.LastFiredTier)
	})

	t.Run("should fill recommendations when missing", func(t *testing.T) {
		_, iv := Transition(risk.Result{RiskLevel: 10}, Initial(), t0, 0)
		require.NotNil(t, iv)
		assert.Equal(t, risk.Recommendations(10), iv.Recommendations)
	})
}
