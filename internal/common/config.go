// Package common provides shared configuration, logging, and version
// utilities for the robot command middleware.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds the full runtime configuration, loaded from an optional
// TOML file and overlaid with the environment variables named in spec §6.
type Config struct {
	Environment string       `toml:"environment"`
	Server      ServerConfig `toml:"server"`
	Queue       QueueConfig  `toml:"queue"`
	Worker      WorkerConfig `toml:"worker"`
	Registry    RegistryConfig `toml:"registry"`
	Store       StoreConfig  `toml:"store"`
	Logging     LoggingConfig `toml:"logging"`
	Auth        AuthConfig   `toml:"auth"`
}

// ServerConfig holds HTTP listener configuration. The core binds to
// 127.0.0.1 only, per spec §6.
type ServerConfig struct {
	Port int `toml:"port"`
}

// QueueConfig holds priority queue sizing.
type QueueConfig struct {
	MaxSize int `toml:"max_size"`
}

// WorkerConfig holds worker pool sizing and timing.
type WorkerConfig struct {
	MaxWorkers       int `toml:"max_workers"`
	PollIntervalMS   int `toml:"poll_interval_ms"`
	DefaultTimeoutMS int `toml:"default_timeout_ms"`
	MaxRetries       int `toml:"max_retries"`
	ShutdownGraceS   int `toml:"shutdown_grace_s"`
}

// RegistryConfig holds robot registry timing.
type RegistryConfig struct {
	HeartbeatTimeoutS int `toml:"heartbeat_timeout_s"`
}

// StoreConfig holds command store retention.
type StoreConfig struct {
	TTLSeconds int `toml:"ttl_s"`
}

// LoggingConfig mirrors the teacher's logging configuration shape.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// AuthConfig holds the bearer token shared with the supervisor. Populated
// exclusively from APP_TOKEN — there is no config-file fallback, since a
// token committed to a file defeats the point of a supervisor handshake.
type AuthConfig struct {
	Token string `toml:"-"`
}

// NewDefaultConfig returns a Config with the defaults named in spec §6.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server:      ServerConfig{Port: 5000},
		Queue:       QueueConfig{MaxSize: 1000},
		Worker: WorkerConfig{
			MaxWorkers:       5,
			PollIntervalMS:   100,
			DefaultTimeoutMS: 10000,
			MaxRetries:       3,
			ShutdownGraceS:   10,
		},
		Registry: RegistryConfig{HeartbeatTimeoutS: 120},
		Store:    StoreConfig{TTLSeconds: 3600},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// LoadConfig loads configuration from an optional TOML file (skipped if
// missing) and then applies environment overrides, mirroring the
// teacher's LoadConfig(paths...) + applyEnvOverrides split.
func LoadConfig(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			if err := toml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("APP_TOKEN"); v != "" {
		c.Auth.Token = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Server.Port = n
		}
	}
	if v := os.Getenv("QUEUE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Queue.MaxSize = n
		}
	}
	if v := os.Getenv("MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Worker.MaxWorkers = n
		}
	}
	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Worker.PollIntervalMS = n
		}
	}
	if v := os.Getenv("DEFAULT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Worker.DefaultTimeoutMS = n
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Worker.MaxRetries = n
		}
	}
	if v := os.Getenv("HEARTBEAT_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Registry.HeartbeatTimeoutS = n
		}
	}
	if v := os.Getenv("SHUTDOWN_GRACE_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Worker.ShutdownGraceS = n
		}
	}
	if v := os.Getenv("STORE_TTL_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Store.TTLSeconds = n
		}
	}
	if v := os.Getenv("ROBOTMW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ROBOTMW_ENV"); v != "" {
		c.Environment = v
	}
}

// validateConfig enforces the APP_TOKEN contract from spec §6: startup
// fails if the token is absent or shorter than 16 characters.
func validateConfig(c *Config) error {
	if strings.TrimSpace(c.Auth.Token) == "" {
		return ErrMissingToken
	}
	if len(c.Auth.Token) < 16 {
		return ErrTokenTooShort
	}
	return nil
}

// ErrMissingToken and ErrTokenTooShort map to the exit code 2 contract
// of spec §6.
var (
	ErrMissingToken  = fmt.Errorf("APP_TOKEN is required")
	ErrTokenTooShort = fmt.Errorf("APP_TOKEN must be at least 16 characters")
)

// IsProduction reports whether the service is running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ShutdownGrace returns the configured graceful-shutdown window.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Worker.ShutdownGraceS) * time.Second
}

// HeartbeatTimeout returns the configured robot heartbeat timeout.
func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Registry.HeartbeatTimeoutS) * time.Second
}

// StoreTTL returns the configured terminal-record retention window.
func (c *Config) StoreTTL() time.Duration {
	return time.Duration(c.Store.TTLSeconds) * time.Second
}

// PollInterval returns the configured worker dequeue poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalMS) * time.Millisecond
}
