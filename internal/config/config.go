// Package config loads the hookrelay process configuration from a YAML file
// and HOOKRELAY_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/hookrelay"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreBun      = "bun"
)

// Queue drivers.
const (
	QueueMemory = "memory"
	QueueRedis  = "redis"
)

// Config holds all configuration for the hookrelay process.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Delivery DeliveryConfig `mapstructure:"delivery"`
	Topics   TopicsConfig   `mapstructure:"topics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// QueueConfig selects the job queue backend and sizes the worker pool.
type QueueConfig struct {
	Driver            string        `mapstructure:"driver"`
	Name              string        `mapstructure:"name"`
	RedisURL          string        `mapstructure:"redis_url"`
	KeyPrefix         string        `mapstructure:"key_prefix"`
	Concurrency       int           `mapstructure:"concurrency"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	StaleJobThreshold time.Duration `mapstructure:"stale_job_threshold"`
}

// DeliveryConfig holds outbound HTTP settings.
type DeliveryConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// TopicsConfig holds topic registry settings.
type TopicsConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables. An empty
// configPath uses defaults and the environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// Environment variables override file config: queue.concurrency is
	// HOOKRELAY_QUEUE_CONCURRENCY.
	v.SetEnvPrefix("HOOKRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := hookrelay.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", def.ShutdownTimeout.String())

	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.dsn", "")

	v.SetDefault("queue.driver", QueueMemory)
	v.SetDefault("queue.name", def.QueueName)
	v.SetDefault("queue.redis_url", "redis://localhost:6379/0")
	v.SetDefault("queue.key_prefix", "hookrelay")
	v.SetDefault("queue.concurrency", def.Concurrency)
	v.SetDefault("queue.poll_interval", def.PollInterval.String())
	v.SetDefault("queue.stale_job_threshold", def.StaleJobThreshold.String())

	v.SetDefault("delivery.default_timeout", def.DefaultTimeout.String())
	v.SetDefault("topics.cache_ttl", def.TopicCacheTTL.String())

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate rejects unknown drivers and settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres, StoreSQLite, StoreBun:
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	switch c.Queue.Driver {
	case QueueMemory, QueueRedis:
	default:
		return fmt.Errorf("config: unknown queue driver %q", c.Queue.Driver)
	}
	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("config: queue.concurrency must be at least 1")
	}
	return nil
}

// Engine returns the engine configuration.
func (c *Config) Engine() hookrelay.Config {
	return hookrelay.Config{
		QueueName:         c.Queue.Name,
		Concurrency:       c.Queue.Concurrency,
		PollInterval:      c.Queue.PollInterval,
		StaleJobThreshold: c.Queue.StaleJobThreshold,
		ShutdownTimeout:   c.Server.ShutdownTimeout,
		DefaultTimeout:    c.Delivery.DefaultTimeout,
		TopicCacheTTL:     c.Topics.CacheTTL,
	}
}
