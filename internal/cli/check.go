package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func CheckCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run one scoring cycle and print the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := build(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			res, err := a.engine.RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			status, _ := a.engine.CurrentStatus()
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"result":     res,
				"tier":       status.Tier,
				"label":      status.Label,
				"trend":      status.Trend,
				"escalation": a.engine.Escalation(),
			})
		},
	}
}
