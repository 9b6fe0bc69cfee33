package cli

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/terminal-bench/safetywatch/internal/config"
	"github.com/terminal-bench/safetywatch/internal/engine"
	"github.com/terminal-bench/safetywatch/internal/notify"
	"github.com/terminal-bench/safetywatch/internal/risk"
	"github.com/terminal-bench/safetywatch/internal/signals"
	"github.com/terminal-bench/safetywatch/internal/storage"
	"github.com/terminal-bench/safetywatch/pkg/circuit"
	"github.com/terminal-bench/safetywatch/pkg/messaging"
)

// app is one fully wired monitor.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    storage.Store
	usage    *signals.UsageTracker
	location *signals.LocationCache
	emitter  *notify.Emitter
	engine   *engine.Engine
	// bus is nil unless NATS is configured; the NATS sink owns closing it.
	bus *messaging.Client
}

// build wires storage, scorer, sinks and engine from cfg. extra sinks are
// appended after the configured ones.
func build(ctx context.Context, cfg *config.Config, logger *zap.Logger, extra ...notify.Sink) (*app, error) {
	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}

	sinks, bus, err := buildSinks(cfg, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	sinks = append(sinks, extra...)

	emitter := notify.NewEmitter(notify.EmitterConfig{
		UserID: cfg.UserID,
		Logger: logger,
	}, sinks...)

	breaker := circuit.NewBreaker(circuit.Config{
		Name:        "risk-scorer",
		MaxFailures: cfg.Scorer.BreakerFailures,
		Cooldown:    cfg.Scorer.BreakerCooldown,
		OnStateChange: func(name string, from, to circuit.State) {
			logger.Warn("circuit state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
	scorer, err := risk.NewClient(risk.ClientConfig{
		Endpoint: cfg.Scorer.URL,
		UserID:   cfg.UserID,
		Timeout:  cfg.Scorer.Timeout,
		Breaker:  breaker,
		Logger:   logger,
	})
	if err != nil {
		emitter.Close(ctx)
		store.Close()
		return nil, err
	}

	usage := signals.NewUsageTracker(nil)
	location := signals.NewLocationCache(cfg.Engine.LocationMaxAge, nil)

	eng, err := engine.New(engine.Config{
		UserID:       cfg.UserID,
		Interval:     cfg.Engine.Interval,
		Debounce:     cfg.Engine.Debounce,
		InputTimeout: cfg.Engine.InputTimeout,
		Logger:       logger,
	}, engine.Deps{
		Scorer:   scorer,
		Usage:    usage,
		Location: location,
		Store:    store,
		Observer: emitter,
	})
	if err != nil {
		emitter.Close(ctx)
		store.Close()
		return nil, err
	}

	if err := eng.Restore(ctx); err != nil {
		logger.Warn("could not restore persisted state", zap.Error(err))
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		usage:    usage,
		location: location,
		emitter:  emitter,
		engine:   eng,
		bus:      bus,
	}, nil
}

func buildSinks(cfg *config.Config, logger *zap.Logger) ([]notify.Sink, *messaging.Client, error) {
	sinks := []notify.Sink{notify.NewLogSink(logger)}

	var bus *messaging.Client
	if cfg.NATS.URL != "" {
		client, err := messaging.NewClient(messaging.Config{
			URL:            cfg.NATS.URL,
			Name:           "safetyd-" + cfg.UserID,
			ReconnectWait:  time.Second,
			MaxReconnects:  60,
			ConnectTimeout: 10 * time.Second,
			Stream:         cfg.NATS.Stream,
			Subjects:       []string{"safety.>"},
		})
		if err != nil {
			return nil, nil, err
		}
		bus = client
		sinks = append(sinks, notify.NewNATSSink(client))
	}

	if cfg.Webhook.URL != "" {
		hook, err := notify.NewWebhookSink(cfg.Webhook.URL, cfg.Webhook.Headers, cfg.Webhook.Timeout, cfg.Webhook.Events...)
		if err != nil {
			closeSinks(sinks)
			return nil, nil, err
		}
		sinks = append(sinks, hook)
	}

	if cfg.Influx.URL != "" {
		influx, err := notify.NewInfluxSink(notify.InfluxConfig{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		if err != nil {
			closeSinks(sinks)
			return nil, nil, err
		}
		sinks = append(sinks, influx)
	}
	return sinks, bus, nil
}

func closeSinks(sinks []notify.Sink) {
	for _, s := range sinks {
		_ = s.Close(context.Background())
	}
}

// close stops the engine, drains the emitter and closes storage.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.engine.Running() {
		errs = append(errs, a.engine.Stop())
	}
	a.emitter.Close(ctx)
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}
