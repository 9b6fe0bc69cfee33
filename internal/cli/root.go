package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terminal-bench/safetywatch/internal/config"
	"github.com/terminal-bench/safetywatch/pkg/logging"
)

func Execute() error {
	return NewRoot().Execute()
}

// NewRoot builds the safetyd command tree.
func NewRoot() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "safetyd",
		Short:        "Safety check-in risk monitor",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "safetyd.yaml", "path to the YAML config file")

	root.AddCommand(
		ServeCmd(&configPath),
		CheckCmd(&configPath),
		ScoreCmd(),
		TokenCmd(&configPath),
	)
	return root
}

func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.With(zap.String("user_id", cfg.UserID)), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
