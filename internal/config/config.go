// Package config provides configuration types, defaults, and loading
// for the task dispatch core: tunables from spec §6, connection
// settings for Postgres/Redis/OTel, and a hot-reload watcher for the
// subset of tunables safe to change without a restart.
package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the taskcore service.
type Config struct {
	SLA                        time.Duration `mapstructure:"sla" yaml:"sla"`
	WarningMarks               []int         `mapstructure:"warning_marks" yaml:"warning_marks"`
	PresenceTTL                time.Duration `mapstructure:"presence_ttl" yaml:"presence_ttl"`
	AssignTick                 time.Duration `mapstructure:"assign_tick" yaml:"assign_tick"`
	DeadlineTick               time.Duration `mapstructure:"deadline_tick" yaml:"deadline_tick"`
	MaxRetries                 int           `mapstructure:"max_retries" yaml:"max_retries"`
	WarningsBeforeViolation    int           `mapstructure:"warnings_before_violation" yaml:"warnings_before_violation"`
	ViolationsBeforeSuspension int           `mapstructure:"violations_before_suspension" yaml:"violations_before_suspension"`
	ScoreThreshold             float64       `mapstructure:"score_threshold" yaml:"score_threshold"`

	Postgres Postgres `mapstructure:"postgres" yaml:"postgres"`
	Redis    Redis    `mapstructure:"redis" yaml:"redis"`
	OTel     OTel     `mapstructure:"otel" yaml:"otel"`
	HTTP     HTTP     `mapstructure:"http" yaml:"http"`
	Slack    Slack    `mapstructure:"slack" yaml:"slack"`
}

// Postgres holds connection settings for the Task Store.
type Postgres struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// Redis holds connection settings for the cross-process Event Bus
// transport and the distributed pre-warning dedup lock.
type Redis struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	// Enabled selects cross-process mode; when false the Event Bus
	// runs local-only (single instance / tests).
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// OTel holds OpenTelemetry exporter settings.
type OTel struct {
	ServiceName  string `mapstructure:"service_name" yaml:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"` // empty -> stdout exporter
}

// HTTP holds listen addresses for the Intake API, Reviewer Gateway,
// and the /metrics and /healthz surfaces.
type HTTP struct {
	IntakeAddr        string   `mapstructure:"intake_addr" yaml:"intake_addr"`
	GatewayAddr       string   `mapstructure:"gateway_addr" yaml:"gateway_addr"`
	MetricsAddr       string   `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	CORSOrigins       []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	AutoApplyEndpoint string   `mapstructure:"auto_apply_endpoint" yaml:"auto_apply_endpoint"`
}

// Slack holds the bot token and ops channel used for suspension alerts.
type Slack struct {
	Token   string `mapstructure:"token" yaml:"token"`
	Channel string `mapstructure:"channel" yaml:"channel"`
}

// StructuralFieldsEqual reports whether cfg and other agree on every
// field that requires a process restart to change (connection
// settings, listen addresses) — used by the hot-reload watcher to
// decide whether a reload can be applied in place or must be ignored
// with a warning.
func (c Config) StructuralFieldsEqual(other Config) bool {
	return c.Postgres == other.Postgres &&
		c.Redis == other.Redis &&
		c.OTel == other.OTel &&
		c.HTTP.IntakeAddr == other.HTTP.IntakeAddr &&
		c.HTTP.GatewayAddr == other.HTTP.GatewayAddr &&
		c.HTTP.MetricsAddr == other.HTTP.MetricsAddr
}

// Defaults returns the configuration defaults named in spec §6.
func Defaults() Config {
	return Config{
		SLA:                        20 * time.Minute,
		WarningMarks:               []int{5, 3, 1},
		PresenceTTL:                90 * time.Second,
		AssignTick:                 5 * time.Second,
		DeadlineTick:               60 * time.Second,
		MaxRetries:                 3,
		WarningsBeforeViolation:    3,
		ViolationsBeforeSuspension: 3,
		ScoreThreshold:             0.90,
		HTTP: HTTP{
			IntakeAddr:  ":8080",
			GatewayAddr: ":8081",
			MetricsAddr: ":9090",
		},
	}
}

// Validate checks the loaded configuration for internally consistent
// values beyond what mapstructure/viper already coerced.
func (c Config) Validate() error {
	if c.SLA <= 0 {
		return fmt.Errorf("sla must be positive, got %s", c.SLA)
	}
	if c.PresenceTTL <= 0 {
		return fmt.Errorf("presence_ttl must be positive, got %s", c.PresenceTTL)
	}
	if c.AssignTick <= 0 || c.DeadlineTick <= 0 {
		return fmt.Errorf("assign_tick and deadline_tick must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative, got %d", c.MaxRetries)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score_threshold must be in [0,1], got %f", c.ScoreThreshold)
	}
	if len(c.WarningMarks) == 0 {
		return fmt.Errorf("warning_marks must not be empty")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	return nil
}
