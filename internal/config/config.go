package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/terminal-bench/safetywatch/internal/storage"
)

// Config holds safetyd configuration.
type Config struct {
	UserID  string        `yaml:"user_id"`
	Server  ServerConfig  `yaml:"server"`
	Scorer  ScorerConfig  `yaml:"scorer"`
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	NATS    NATSConfig    `yaml:"nats"`
	Webhook WebhookConfig `yaml:"webhook"`
	Influx  InfluxConfig  `yaml:"influxdb"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Port      string `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"` // empty disables auth
}

type ScorerConfig struct {
	URL             string        `yaml:"url"`
	Timeout         time.Duration `yaml:"timeout"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type EngineConfig struct {
	Interval       time.Duration `yaml:"interval"`
	Debounce       time.Duration `yaml:"debounce"`
	InputTimeout   time.Duration `yaml:"input_timeout"`
	LocationMaxAge time.Duration `yaml:"location_max_age"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // memory | redis | sqlite | postgres
	DSN    string `yaml:"dsn"`
}

type NATSConfig struct {
	URL    string `yaml:"url"`    // empty disables the NATS sink
	Stream string `yaml:"stream"` // JetStream stream; empty publishes core NATS
}

type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
	Events  []string          `yaml:"events"` // empty delivers everything
}

type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads configuration from a YAML file and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		UserID: "anonymous",
		Server: ServerConfig{Port: "8080"},
		Scorer: ScorerConfig{
			Timeout:         10 * time.Second,
			BreakerFailures: 3,
			BreakerCooldown: time.Minute,
		},
		Engine: EngineConfig{
			Interval:       30 * time.Minute,
			Debounce:       30 * time.Minute,
			InputTimeout:   5 * time.Second,
			LocationMaxAge: 5 * time.Minute,
		},
		Storage: StorageConfig{Driver: storage.DriverMemory},
		Webhook: WebhookConfig{Timeout: 2 * time.Second},
		Logging: LoggingConfig{Level: "info"},
	}
}

// applyDefaults fills zero values a YAML file may have cleared.
func applyDefaults(cfg *Config) {
	def := defaultConfig()
	if cfg.UserID == "" {
		cfg.UserID = def.UserID
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Scorer.BreakerFailures == 0 {
		cfg.Scorer.BreakerFailures = def.Scorer.BreakerFailures
	}
	if cfg.Scorer.BreakerCooldown == 0 {
		cfg.Scorer.BreakerCooldown = def.Scorer.BreakerCooldown
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = def.Storage.Driver
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}

func applyEnv(cfg *Config) {
	cfg.UserID = getEnv("SAFETY_USER_ID", cfg.UserID)
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.JWTSecret = getEnv("JWT_SECRET", cfg.Server.JWTSecret)
	cfg.Scorer.URL = getEnv("SCORER_URL", cfg.Scorer.URL)
	cfg.Engine.Interval = getEnvDuration("SAFETY_INTERVAL", cfg.Engine.Interval)
	cfg.Storage.Driver = strings.ToLower(getEnv("STORAGE_DRIVER", cfg.Storage.Driver))
	cfg.Storage.DSN = getEnv("STORAGE_DSN", cfg.Storage.DSN)
	if cfg.Storage.Driver == storage.DriverRedis && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = os.Getenv("REDIS_URL")
	}
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.Webhook.URL = getEnv("WEBHOOK_URL", cfg.Webhook.URL)
	cfg.Influx.URL = getEnv("INFLUXDB_URL", cfg.Influx.URL)
	cfg.Influx.Token = getEnv("INFLUXDB_TOKEN", cfg.Influx.Token)
	cfg.Influx.Org = getEnv("INFLUXDB_ORG", cfg.Influx.Org)
	cfg.Influx.Bucket = getEnv("INFLUXDB_BUCKET", cfg.Influx.Bucket)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvDuration keeps defaultValue when the variable is unset or unparsable;
// Validate reports the resulting value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
