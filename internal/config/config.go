package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat    string `mapstructure:"log_format" yaml:"log_format"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	MaxMessageBytes    int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	MaxContentLength   int           `mapstructure:"max_content_length" yaml:"max_content_length"`
	SendQueueSize      int           `mapstructure:"send_queue_size" yaml:"send_queue_size"`
	LiveBufferSize     int           `mapstructure:"live_buffer_size" yaml:"live_buffer_size"`
	HistoryLimit       int           `mapstructure:"history_limit" yaml:"history_limit"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatTimeout   time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	PersistTimeout     time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		DatabasePath:       "wirechat.db",
		LogLevel:           "info",
		LogFormat:          "console",
		JWTSecret:          "change-me",
		JWTIssuer:          "wirechat",
		JWTAudience:        "wirechat-clients",
		JWTTTL:             24 * time.Hour,
		AllowedOrigins:     []string{"*"},
		MaxMessageBytes:    64 << 10,
		MaxContentLength:   4000,
		SendQueueSize:      64,
		LiveBufferSize:     256,
		HistoryLimit:       100,
		HeartbeatInterval:  20 * time.Second,
		HeartbeatTimeout:   60 * time.Second,
		PersistTimeout:     5 * time.Second,
		RateLimitPerMinute: 120,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the fields exposed as command-line flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database_path is required"))
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be console or json", c.LogFormat))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret is required"))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("jwt_ttl must be positive"))
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatTimeout <= c.HeartbeatInterval {
		errs = append(errs, errors.New("heartbeat_timeout must exceed a positive heartbeat_interval"))
	}
	return errors.Join(errs...)
}
