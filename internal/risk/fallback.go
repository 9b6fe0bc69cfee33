package risk

import (
	"github.com/terminal-bench/safetywatch/internal/signals"
)

const (
	// FallbackConfidence is the fixed confidence of a locally computed score.
	FallbackConfidence = 0.6
	// FallbackModelVersion tags results produced by Fallback.
	FallbackModelVersion = "client-fallback-1.0"
)

// Risk factor tags emitted by Fallback, in evaluation order.
const (
	FactorNoCheckIn    = "no check-in record"
	FactorLongGap      = "long check-in gap"
	FactorDelayed      = "check-in delayed"
	FactorNeeded       = "check-in needed"
	FactorLowUsage     = "low app usage"
	FactorLowOpens     = "low app open frequency"
	FactorNoLocation   = "no location data"
	FactorNoneDetected = "no notable risk factors"
)

var recommendationTiers = []struct {
	min   int
	texts []string
}{
	{8, []string{"즉시 안전을 확인해주세요", "비상연락처에 연락하세요", "안전한 장소로 이동하세요"}},
	{6, []string{"체크인을 해주세요", "가족이나 친구와 연락해보세요", "이웃과 소통해보세요"}},
	{4, []string{"정기 체크인을 권장합니다", "커뮤니티 활동에 참여해보세요", "건강한 생활 패턴을 유지하세요"}},
	{2, []string{"좋은 상태를 유지하고 계세요!", "꾸준한 체크인을 해주세요"}},
	{MinLevel, []string{"완벽한 상태입니다!", "안전한 하루 보내세요"}},
}

// Recommendations returns the canned advice for a final risk level.
func Recommendations(level int) []string {
	level = ClampLevel(level)
	for _, tier := range recommendationTiers {
		if level >= tier.min {
			return append([]string(nil), tier.texts...)
		}
	}
	return nil
}

// Fallback scores a snapshot with the local point table. It depends only on
// the snapshot, so identical snapshots always produce identical results.
func Fallback(snap signals.Snapshot) Result {
	total := 0
	var factors []string
	add := func(points int, factor string) {
		total += points
		factors = append(factors, factor)
	}

	if hours, ok := snap.HoursSinceCheckIn(); !ok {
		add(3, FactorNoCheckIn)
	} else {
		switch {
		case hours > 48:
			add(6, FactorLongGap)
		case hours > 24:
			add(4, FactorDelayed)
		case hours > 12:
			add(2, FactorNeeded)
		}
	}

	if snap.ScreenTimeMinutes < 30 {
		add(2, FactorLowUsage)
	}
	if snap.AppOpenCount < 5 {
		add(1, FactorLowOpens)
	}

	if !snap.HasLocation() {
		add(1, FactorNoLocation)
	}

	if len(factors) == 0 {
		factors = []string{FactorNoneDetected}
	}

	level := ClampLevel(total)
	return Result{
		RiskLevel:       level,
		Confidence:      FallbackConfidence,
		RiskFactors:     factors,
		Recommendations: Recommendations(level),
		Source:          SourceFallback,
		ModelVersion:    FallbackModelVersion,
		ComputedAt:      snap.CapturedAt,
	}
}
