package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/terminal-bench/safetywatch/internal/storage"
	"github.com/terminal-bench/safetywatch/pkg/logging"
)

// MaxScorerTimeout bounds the remote scoring call.
const MaxScorerTimeout = 10 * time.Second

// ErrMissingEndpoint is returned when no scorer URL is configured.
var ErrMissingEndpoint = errors.New("scorer.url must be set")

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Scorer.URL) == "" {
		return ErrMissingEndpoint
	}
	if err := validateHTTPURL("scorer.url", cfg.Scorer.URL); err != nil {
		return err
	}
	if cfg.Scorer.Timeout <= 0 || cfg.Scorer.Timeout > MaxScorerTimeout {
		return fmt.Errorf("scorer.timeout must be in (0, %s], got %s", MaxScorerTimeout, cfg.Scorer.Timeout)
	}
	if cfg.Scorer.BreakerFailures < 1 {
		return errors.New("scorer.breaker_failures must be at least 1")
	}

	if cfg.Engine.Interval <= 0 {
		return fmt.Errorf("engine.interval must be positive, got %s", cfg.Engine.Interval)
	}
	if cfg.Engine.Debounce <= 0 {
		return fmt.Errorf("engine.debounce must be positive, got %s", cfg.Engine.Debounce)
	}
	if cfg.Engine.InputTimeout <= 0 {
		return fmt.Errorf("engine.input_timeout must be positive, got %s", cfg.Engine.InputTimeout)
	}

	if !slices.Contains(storage.Drivers(), cfg.Storage.Driver) {
		return fmt.Errorf("storage.driver %q is not one of %v", cfg.Storage.Driver, storage.Drivers())
	}
	if cfg.Storage.Driver != storage.DriverMemory && strings.TrimSpace(cfg.Storage.DSN) == "" {
		return fmt.Errorf("storage.dsn must be set for driver %q", cfg.Storage.Driver)
	}

	if cfg.Webhook.URL != "" {
		if err := validateHTTPURL("webhook.url", cfg.Webhook.URL); err != nil {
			return err
		}
	}
	if cfg.Influx.URL != "" && (cfg.Influx.Org == "" || cfg.Influx.Bucket == "") {
		return errors.New("influxdb.org and influxdb.bucket must be set with influxdb.url")
	}

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is invalid: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", field)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	return nil
}
