package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/terminal-bench/safetywatch/internal/api"
)

const shutdownTimeout = 5 * time.Second

func ServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hub := api.NewHub(logger)
			a, err := build(ctx, cfg, logger, hub)
			if err != nil {
				return err
			}

			if err := a.engine.Start(ctx, cfg.Engine.Interval); err != nil {
				a.close(context.Background())
				return err
			}

			srv := api.NewServer(api.Config{
				Port:            cfg.Server.Port,
				JWTSecret:       cfg.Server.JWTSecret,
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				RateLimitMax:    30,
				RateLimitWindow: time.Minute,
			}, a.engine, hub, logger)
			inputs := api.Inputs{Usage: a.usage, Location: a.location}
			srv.SetInputs(inputs)

			if a.bus != nil {
				srv.AddHealthCheck("nats", a.bus.IsConnected)
				commands := api.NewCommandHandler(a.engine, inputs, logger)
				if err := a.bus.Subscribe(api.CommandSubject(cfg.UserID), commands.HandleMsg); err != nil {
					logger.Warn("command subscription failed", zap.Error(err))
				}
			}

			serveErr := make(chan error, 1)
			go func() {
				serveErr <- srv.Start()
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case err = <-serveErr:
				if err != nil {
					logger.Error("http server failed", zap.Error(err))
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("http shutdown", zap.Error(serr))
			}
			if cerr := a.close(shutdownCtx); cerr != nil {
				logger.Warn("monitor shutdown", zap.Error(cerr))
			}
			return err
		},
	}
}
