package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/terminal-bench/safetywatch/internal/escalation"
	"github.com/terminal-bench/safetywatch/internal/risk"
	"github.com/terminal-bench/safetywatch/internal/signals"
)

// ScoreCmd scores a hand-built snapshot with the local fallback table. It
// needs no config or network.
func ScoreCmd() *cobra.Command {
	var (
		screenTime int
		opens      int
		hoursSince float64
		noLocation bool
	)
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score signals with the offline fallback table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if screenTime < 0 || opens < 0 {
				return errors.New("screen time and opens must not be negative")
			}

			now := time.Now().UTC()
			snap := signals.Snapshot{
				ScreenTimeMinutes: screenTime,
				AppOpenCount:      opens,
				CapturedAt:        now,
			}
			if hoursSince >= 0 {
				at := now.Add(-time.Duration(hoursSince * float64(time.Hour)))
				snap.LastCheckIn = &at
			}
			if !noLocation {
				snap.Location = &signals.Location{CapturedAt: now}
			}

			res := risk.Fallback(snap)
			tier := escalation.TierFor(res.RiskLevel)
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"result": res,
				"tier":   tier,
				"label":  tier.Label(),
			})
		},
	}
	cmd.Flags().IntVar(&screenTime, "screen-time", 0, "screen time today, in minutes")
	cmd.Flags().IntVar(&opens, "opens", 0, "app opens today")
	cmd.Flags().Float64Var(&hoursSince, "hours-since-checkin", -1, "hours since the last check-in; negative means never")
	cmd.Flags().BoolVar(&noLocation, "no-location", false, "treat location as unavailable")
	return cmd
}
