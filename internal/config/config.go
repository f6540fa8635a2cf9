// Package config loads gateway configuration from file and environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the gateway.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	DLQ        DLQConfig        `mapstructure:"dlq"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration. An empty URL selects the
// in-memory repository.
type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// RedisConfig holds Redis configuration for the idempotency store. When
// disabled, a process-local store is used instead.
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// NATSConfig holds the optional JetStream DLQ mirror settings.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// OpenSearchConfig holds the optional blocked-event audit archive settings.
type OpenSearchConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Insecure bool   `mapstructure:"insecure"`
	Index    string `mapstructure:"index"`
	Enabled  bool   `mapstructure:"enabled"`
}

// GatewayConfig holds pipeline tunables.
type GatewayConfig struct {
	Workers           int           `mapstructure:"workers"`
	QueueSize         int           `mapstructure:"queue_size"`
	HandlerTimeout    time.Duration `mapstructure:"handler_timeout"`
	IdempotencyTTL    time.Duration `mapstructure:"idempotency_ttl"`
	IdempotencyBucket time.Duration `mapstructure:"idempotency_bucket"`
}

// BreakerConfig holds circuit breaker tunables.
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Window           time.Duration `mapstructure:"window"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// DLQConfig holds dead-letter queue tunables.
type DLQConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MaxPending  int           `mapstructure:"max_pending"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	Interval    time.Duration `mapstructure:"interval"`
}

// ClassifierConfig holds risk classifier settings.
type ClassifierConfig struct {
	PatternsFile string `mapstructure:"patterns_file"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.url", "")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)

	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "")
	v.SetDefault("opensearch.insecure", true)
	v.SetDefault("opensearch.index", "omniport-blocked")
	v.SetDefault("opensearch.enabled", false)

	v.SetDefault("gateway.workers", 8)
	v.SetDefault("gateway.queue_size", 256)
	v.SetDefault("gateway.handler_timeout", "10s")
	v.SetDefault("gateway.idempotency_ttl", "1m")
	v.SetDefault("gateway.idempotency_bucket", "1m")

	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.window", "60s")
	v.SetDefault("breaker.cooldown", "30s")

	v.SetDefault("dlq.max_attempts", 8)
	v.SetDefault("dlq.max_pending", 10000)
	v.SetDefault("dlq.base_backoff", "1s")
	v.SetDefault("dlq.interval", "5s")

	v.SetDefault("classifier.patterns_file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file config
	v.SetEnvPrefix("OMNIPORT")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
