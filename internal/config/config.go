// Package config loads server settings. Precedence: environment variables
// override the optional YAML file, which overrides built-in defaults. A .env
// file is loaded best-effort before anything else.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	yaml "gopkg.in/yaml.v2"
)

// Config is the full environment surface of the server. Fields without an
// env var set keep their YAML or default value; envconfig only touches what
// the environment provides.
type Config struct {
	ListenAddr    string `envconfig:"LISTEN_ADDR" yaml:"listen_addr"`
	DatabaseURL   string `envconfig:"DATABASE_URL" yaml:"database_url"`
	RedisAddr     string `envconfig:"REDIS_ADDR" yaml:"redis_addr"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" yaml:"redis_password"`
	RedisDB       int    `envconfig:"REDIS_DB" yaml:"redis_db"`

	LogLevel  string `envconfig:"LOG_LEVEL" yaml:"log_level"`
	LogPretty bool   `envconfig:"LOG_PRETTY" yaml:"log_pretty"`

	AuthSkew           time.Duration `envconfig:"AUTH_SKEW" yaml:"auth_skew"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" yaml:"request_timeout"`
	RateLimitPerMinute int           `envconfig:"RATE_LIMIT_PER_MINUTE" yaml:"rate_limit_per_minute"`

	HeartbeatRetentionDays int     `envconfig:"HEARTBEAT_RETENTION_DAYS" yaml:"heartbeat_retention_days"`
	DailyBoostCap          float64 `envconfig:"DAILY_BOOST_CAP" yaml:"daily_boost_cap"`
	AtRiskMargin           float64 `envconfig:"AT_RISK_MARGIN" yaml:"at_risk_margin"`
	AtRiskInactiveDays     int     `envconfig:"AT_RISK_INACTIVE_DAYS" yaml:"at_risk_inactive_days"`
	MaxSuggestions         int     `envconfig:"MAX_SUGGESTIONS" yaml:"max_suggestions"`
	CarapaceKeepVersions   int     `envconfig:"CARAPACE_KEEP_VERSIONS" yaml:"carapace_keep_versions"`

	DecayCron     string `envconfig:"DECAY_CRON" yaml:"decay_cron"`
	BriefingCron  string `envconfig:"BRIEFING_CRON" yaml:"briefing_cron"`
	RetentionCron string `envconfig:"RETENTION_CRON" yaml:"retention_cron"`

	WebhookWorkers    int           `envconfig:"WEBHOOK_WORKERS" yaml:"webhook_workers"`
	WebhookTimeout    time.Duration `envconfig:"WEBHOOK_TIMEOUT" yaml:"webhook_timeout"`
	MessageEditWindow time.Duration `envconfig:"MESSAGE_EDIT_WINDOW" yaml:"message_edit_window"`
	UploadMaxBytes    int64         `envconfig:"UPLOAD_MAX_BYTES" yaml:"upload_max_bytes"`

	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" yaml:"allowed_origins"`
	Environment    string `envconfig:"ENVIRONMENT" yaml:"environment"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ListenAddr:             ":8080",
		DatabaseURL:            "clawbuds.db",
		LogLevel:               "info",
		AuthSkew:               5 * time.Minute,
		RequestTimeout:         30 * time.Second,
		RateLimitPerMinute:     120,
		HeartbeatRetentionDays: 7,
		DailyBoostCap:          0.15,
		AtRiskMargin:           0.05,
		AtRiskInactiveDays:     7,
		MaxSuggestions:         3,
		CarapaceKeepVersions:   20,
		DecayCron:              "30 3 * * *",
		BriefingCron:           "0 7 * * *",
		RetentionCron:          "15 * * * *",
		WebhookWorkers:         4,
		WebhookTimeout:         10 * time.Second,
		MessageEditWindow:      15 * time.Minute,
		UploadMaxBytes:         1 << 20,
		Environment:            "development",
	}
}

// Load builds the config. The path of an optional YAML file is taken from
// CLAWBUDS_CONFIG; leaving it unset means env-only operation.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path := os.Getenv("CLAWBUDS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DailyBoostCap < 0 || c.DailyBoostCap > 1 {
		return fmt.Errorf("DAILY_BOOST_CAP must be in [0,1], got %v", c.DailyBoostCap)
	}
	if c.AtRiskMargin < 0 || c.AtRiskMargin > 1 {
		return fmt.Errorf("AT_RISK_MARGIN must be in [0,1], got %v", c.AtRiskMargin)
	}
	if c.HeartbeatRetentionDays < 1 {
		return fmt.Errorf("HEARTBEAT_RETENTION_DAYS must be >= 1, got %d", c.HeartbeatRetentionDays)
	}
	if c.WebhookWorkers < 1 {
		return fmt.Errorf("WEBHOOK_WORKERS must be >= 1, got %d", c.WebhookWorkers)
	}
	return nil
}
