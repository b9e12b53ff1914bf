// Package config loads the workflow-runner process configuration from
// environment variables and an optional YAML file via spf13/viper,
// generalizing the teacher's internal/config/config.go (a flat,
// os.Getenv/viper.BindEnv-per-field struct for a single monolithic
// service) into the narrower surface spec.md §6.6 names: database,
// messaging (broker), outbox timer cadences, and retry defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the root configuration for cmd/workflow-runner.
type Config struct {
	Environment string `mapstructure:"environment" validate:"required,oneof=development staging production"`
	Debug       bool   `mapstructure:"debug"`

	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Messaging MessagingConfig `mapstructure:"messaging" validate:"required"`
	Wait      WaitConfig      `mapstructure:"wait"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Server    ServerConfig    `mapstructure:"server"`
}

// DatabaseConfig names the relational store backing the Definition Store,
// Outbox, and WorkflowInstance status table (spec.md §6.5).
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// MessagingConfig names the broker Engine binding (spec.md §2's "Engine"
// abstraction, realized here by the NATS/JetStream reference binding).
type MessagingConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Stream        string `mapstructure:"stream" validate:"required_if=Enabled true"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	ConsumerName  string `mapstructure:"consumer_name"`
	Embedded      bool   `mapstructure:"embedded"`
	EmbeddedPort  int    `mapstructure:"embedded_port"`
}

// WaitConfig controls the Outbox Scheduler's two independent timer loops
// for delayed (WAIT/timer) redelivery, per spec.md §4.6.
type WaitConfig struct {
	Outbox OutboxTimerConfig `mapstructure:"outbox"`
}

// RetryConfig mirrors WaitConfig for the retry-backoff redelivery loop.
// The Default* backoff fields are loaded but not read anywhere: a try
// task's retry delay comes from its own retry policy alone.
type RetryConfig struct {
	Outbox             OutboxTimerConfig `mapstructure:"outbox"`
	DefaultMaxAttempts int               `mapstructure:"default_max_attempts"`
	DefaultBaseDelay   time.Duration     `mapstructure:"default_base_delay"`
	DefaultMaxDelay    time.Duration     `mapstructure:"default_max_delay"`
}

// OutboxTimerConfig is shared by the wait and retry outbox loops: how often
// to poll for due rows, how many to claim per poll, and when to sweep sent
// rows for cleanup.
type OutboxTimerConfig struct {
	Every         string `mapstructure:"every" validate:"required"` // cron expression, e.g. "@every 2s"
	BatchSize     int    `mapstructure:"batch_size" validate:"min=1"`
	CleanupEvery  string `mapstructure:"cleanup_every" validate:"required"` // cron expression, e.g. "@every 1h"
	CleanupMaxAge string `mapstructure:"cleanup_max_age"`                   // Go duration string, e.g. "24h"
	MaxRetries    int    `mapstructure:"max_retries" validate:"min=0"`
}

// TelemetryConfig mirrors the teacher's Telemetry struct. Only Enabled is
// read (cmd/workflow-runner uses it to turn run/step tracing and metrics
// on); Endpoint and ServiceName are loaded but no exporter uses them.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// ServerConfig holds a listen address for an HTTP surface; spec.md treats
// submission APIs as an external collaborator, and this process starts no
// HTTP server, so Addr is loaded but not read.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from environment variables (prefixed
// WORKFLOWCORE_, nested keys joined by underscore, mirroring the teacher's
// viper.AutomaticEnv + SetEnvKeyReplacer setup) and an optional YAML file
// at configPath, then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("WORKFLOWCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("debug", false)

	v.SetDefault("database.url", "./workflowcore.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("messaging.enabled", true)
	v.SetDefault("messaging.url", "")
	v.SetDefault("messaging.stream", "WORKFLOWCORE")
	v.SetDefault("messaging.subject_prefix", "workflowcore")
	v.SetDefault("messaging.consumer_name", "workflow-runner")
	v.SetDefault("messaging.embedded", true)
	v.SetDefault("messaging.embedded_port", 4222)

	v.SetDefault("wait.outbox.every", "@every 2s")
	v.SetDefault("wait.outbox.batch_size", 100)
	v.SetDefault("wait.outbox.cleanup_every", "@every 1h")
	v.SetDefault("wait.outbox.cleanup_max_age", "24h")
	v.SetDefault("wait.outbox.max_retries", 5)

	v.SetDefault("retry.outbox.every", "@every 1s")
	v.SetDefault("retry.outbox.batch_size", 100)
	v.SetDefault("retry.outbox.cleanup_every", "@every 1h")
	v.SetDefault("retry.outbox.cleanup_max_age", "24h")
	v.SetDefault("retry.outbox.max_retries", 5)
	v.SetDefault("retry.default_max_attempts", 3)
	v.SetDefault("retry.default_base_delay", time.Second)
	v.SetDefault("retry.default_max_delay", 30*time.Second)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.service_name", "workflow-runner")

	v.SetDefault("server.addr", ":8090")
}
