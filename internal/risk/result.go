package risk

import "time"

// Source identifies which scorer produced a Result.
type Source string

const (
	SourceRemote   Source = "remote"
	SourceFallback Source = "fallback"
)

// Risk level bounds.
const (
	MinLevel = 0
	MaxLevel = 10
)

// Result is the outcome of scoring one snapshot.
type Result struct {
	RiskLevel       int       `json:"risk_level"`
	Confidence      float64   `json:"confidence"`
	RiskFactors     []string  `json:"risk_factors"`
	Recommendations []string  `json:"recommendations"`
	Source          Source    `json:"source"`
	ModelVersion    string    `json:"model_version,omitempty"`
	ComputedAt      time.Time `json:"computed_at"`
}

// Clone returns a copy that shares no slices with r.
func (r Result) Clone() Result {
	r.RiskFactors = append([]string(nil), r.RiskFactors...)
	r.Recommendations = append([]string(nil), r.Recommendations...)
	return r
}

// ClampLevel forces a level into [MinLevel, MaxLevel].
func ClampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}
