// Package config provides configuration management for the coordination server.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Lock    LockConfig    `mapstructure:"lock"`
	Slots   SlotsConfig   `mapstructure:"slots"`
	Quota   QuotaConfig   `mapstructure:"quota"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LockConfig holds hierarchical path lock settings.
type LockConfig struct {
	// StrictSiblings additionally refuses acquisition while a sibling
	// subtree under a shared ancestor has active descendant locks.
	StrictSiblings bool `mapstructure:"strict_siblings"`

	// DefaultTTL is the lease duration applied when a request does not
	// carry its own TTL.
	DefaultTTL time.Duration `mapstructure:"default_ttl"`

	// MaxPathBytes bounds the normalized path length.
	MaxPathBytes int `mapstructure:"max_path_bytes"`

	Retry RetryConfig `mapstructure:"retry"`
}

// RetryConfig holds acquisition retry settings.
type RetryConfig struct {
	AcquireTimeout   time.Duration `mapstructure:"acquire_timeout"`
	BaseDelay        time.Duration `mapstructure:"base_delay"`
	MaxBackoffFactor int           `mapstructure:"max_backoff_factor"`
}

// SlotsConfig holds per-principal concurrency slot settings.
type SlotsConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// QuotaConfig holds byte quota reservation settings.
type QuotaConfig struct {
	// TierLimitBytes is the per-principal reservation ceiling. Zero
	// disables the ceiling.
	TierLimitBytes int64         `mapstructure:"tier_limit_bytes"`
	TTL            time.Duration `mapstructure:"ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled determines if metrics collection is active.
	Enabled bool `mapstructure:"enabled"`

	// Port is the port for the metrics HTTP server.
	Port int `mapstructure:"port"`

	// Path is the URL path for the metrics endpoint.
	Path string `mapstructure:"path"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with COORD_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Environment variable configuration
	v.SetEnvPrefix("COORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file configuration
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/coord")
	}

	// Read config file (optional - environment variables can be used instead)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is acceptable - use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9400)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	// Lock defaults
	v.SetDefault("lock.strict_siblings", false)
	v.SetDefault("lock.default_ttl", 30*time.Second)
	v.SetDefault("lock.max_path_bytes", 1024)
	v.SetDefault("lock.retry.acquire_timeout", 5*time.Second)
	v.SetDefault("lock.retry.base_delay", 50*time.Millisecond)
	v.SetDefault("lock.retry.max_backoff_factor", 16)

	// Slots defaults
	v.SetDefault("slots.max_concurrent", 3)
	v.SetDefault("slots.ttl", 5*time.Minute)

	// Quota defaults
	v.SetDefault("quota.tier_limit_bytes", 0)
	v.SetDefault("quota.ttl", 1*time.Hour)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9491)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	// Validate redis configuration
	if c.Redis.Host == "" {
		return fmt.Errorf("redis.host is required")
	}

	// Validate lock configuration
	if c.Lock.DefaultTTL <= 0 {
		return fmt.Errorf("lock.default_ttl must be positive")
	}
	if c.Lock.MaxPathBytes <= 0 {
		return fmt.Errorf("lock.max_path_bytes must be positive")
	}
	if c.Lock.Retry.BaseDelay <= 0 {
		return fmt.Errorf("lock.retry.base_delay must be positive")
	}
	if c.Lock.Retry.MaxBackoffFactor < 1 {
		return fmt.Errorf("lock.retry.max_backoff_factor must be at least 1")
	}

	// Validate slots configuration
	if c.Slots.MaxConcurrent < 1 {
		return fmt.Errorf("slots.max_concurrent must be at least 1")
	}
	if c.Slots.TTL <= 0 {
		return fmt.Errorf("slots.ttl must be positive")
	}

	// Validate quota configuration
	if c.Quota.TierLimitBytes < 0 {
		return fmt.Errorf("quota.tier_limit_bytes must not be negative")
	}
	if c.Quota.TTL <= 0 {
		return fmt.Errorf("quota.ttl must be positive")
	}

	// Validate logging configuration
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
// Useful for main function initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
