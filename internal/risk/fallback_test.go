package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/terminal-bench/safetywatch/internal/signals"
)

var capturedAt = time.Date(2026, 5, 2, 14, 0, 0, 0, time.UTC)

func snapshot(screen, opens int, withLocation bool, sinceCheckIn *time.Duration) signals.Snapshot {
	snap := signals.Snapshot{
		ScreenTimeMinutes: screen,
		AppOpenCount:      opens,
		CapturedAt:        capturedAt,
	}
	if withLocation {
		snap.Location = &signals.Location{Latitude: 37.5, Longitude: 127.0, Accuracy: 15, CapturedAt: capturedAt}
	}
	if sinceCheckIn != nil {
		at := capturedAt.Add(-*sinceCheckIn)
		snap.LastCheckIn = &at
	}
	return snap
}

func hoursAgo(h float64) *time.Duration {
	d := time.Duration(h * float64(time.Hour))
	return &d
}

func TestFallback(t *testing.T) {
	t.Run("should max out an isolated, inactive user", func(t *testing.T) {
		res := Fallback(snapshot(10, 2, false, hoursAgo(50)))

		assert.Equal(t, 10, res.RiskLevel)
		assert.Equal(t, 0.6, res.Confidence)
		assert.Equal(t, SourceFallback, res.Source)
		assert.Equal(t, []string{FactorLongGap, FactorLowUsage, FactorLowOpens, FactorNoLocation}, res.RiskFactors)
		assert.Equal(t, []string{"즉시 안전을 확인해주세요", "비상연락처에 연락하세요", "안전한 장소로 이동하세요"}, res.Recommendations)
	})

	t.Run("should report no risk for an active user", func(t *testing.T) {
		res := Fallback(snapshot(200, 15, true, hoursAgo(2)))

		assert.Equal(t, 0, res.RiskLevel)
		assert.Equal(t, []string{FactorNoneDetected}, res.RiskFactors)
		assert.Equal(t, []string{"완벽한 상태입니다!", "안전한 하루 보내세요"}, res.Recommendations)
	})

	t.Run("should add points for a missing check-in record", func(t *testing.T) {
		res := Fallback(snapshot(200, 15, true, nil))

		assert.Equal(t, 3, res.RiskLevel)
		assert.Equal(t, []string{FactorNoCheckIn}, res.RiskFactors)
		assert.Equal(t, []string{"좋은 상태를 유지하고 계세요!", "꾸준한 체크인을 해주세요"}, res.Recommendations)
	})

	t.Run("should apply check-in gap bands", func(t *testing.T) {
		cases := []struct {
			hours  float64
			level  int
			factor string
		}{
			{12, 0, FactorNoneDetected},
			{13, 2, FactorNeeded},
			{24, 2, FactorNeeded},
			{25, 4, FactorDelayed},
			{48, 4, FactorDelayed},
			{49, 6, FactorLongGap},
		}
		for _, tc := range cases {
			res := Fallback(snapshot(200, 15, true, hoursAgo(tc.hours)))
			assert.Equal(t, tc.level, res.RiskLevel, "hours=%v", tc.hours)
			assert.Equal(t, []string{tc.factor}, res.RiskFactors, "hours=%v", tc.hours)
		}
	})

	t.Run("should evaluate usage rules independently", func(t *testing.T) {
		lowScreen := Fallback(snapshot(29, 5, true, hoursAgo(1)))
		lowOpens := Fallback(snapshot(30, 4, true, hoursAgo(1)))

		assert.Equal(t, 2, lowScreen.RiskLevel)
		assert.Equal(t, []string{FactorLowUsage}, lowScreen.RiskFactors)
		assert.Equal(t, 1, lowOpens.RiskLevel)
		assert.Equal(t, []string{FactorLowOpens}, lowOpens.RiskFactors)
	})

	t.Run("should pick recommendations from the clamped level", func(t *testing.T) {
		res := Fallback(snapshot(0, 0, false, nil))

		assert.Equal(t, 7, res.RiskLevel)
		assert.Equal(t, []string{"체크인을 해주세요", "가족이나 친구와 연락해보세요", "이웃과 소통해보세요"}, res.Recommendations)
	})

	t.Run("should be deterministic", func(t *testing.T) {
		snap := snapshot(12, 3, false, hoursAgo(30))

		assert.Equal(t, Fallback(snap), Fallback(snap))
		assert.Equal(t, capturedAt, Fallback(snap).ComputedAt)
	})

	t.Run("should never decrease as the gap grows", func(t *testing.T) {
		prev := -1
		for _, h := range []float64{11, 13, 25, 49} {
			level := Fallback(snapshot(100, 10, true, hoursAgo(h))).RiskLevel
			assert.GreaterOrEqual(t, level, prev, "hours=%v", h)
			prev = level
		}
	})

	t.Run("should stay within bounds", func(t *testing.T) {
		for screen := 0; screen <= 60; screen += 15 {
			for opens := 0; opens <= 10; opens += 2 {
				for _, loc := range []bool{true, false} {
					for _, gap := range []*time.Duration{nil, hoursAgo(1), hoursAgo(20), hoursAgo(100)} {
						level := Fallback(snapshot(screen, opens, loc, gap)).RiskLevel
						assert.GreaterOrEqual(t, level, MinLevel)
						assert.LessOrEqual(t, level, MaxLevel)
					}
				}
			}
		}
	})
}

func TestRecommendations(t *testing.T) {
	t.Run("should use tier thresholds", func(t *testing.T) {
		assert.Len(t, Recommendations(10), 3)
		assert.Equal(t, "즉시 안전을 확인해주세요", Recommendations(8)[0])
		assert.Equal(t, "체크인을 해주세요", Recommendations(6)[0])
		assert.Equal(t, "정기 체크인을 권장합니다", Recommendations(4)[0])
		assert.Equal(t, "좋은 상태를 유지하고 계세요!", Recommendations(2)[0])
		assert.Equal(t, "완벽한 상태입니다!", Recommendations(1)[0])
	})

	t.Run("should return a fresh slice", func(t *testing.T) {
		recs := Recommendations(9)
		recs[0] = "changed"

		assert.Equal(t, "즉시 안전을 확인해주세요", Recommendations(9)[0])
	})
}
