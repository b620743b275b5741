// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file and the environment.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json log lines.
	LogFormat string `koanf:"log_format"`

	// Host is the bind host; empty binds every interface.
	Host string `koanf:"host"`

	// Port is the TCP port the hub listens on (WS_PORT).
	Port int `koanf:"ws_port"`

	// CORSOrigin lists allowed handshake origins, comma separated, or "*" (CORS_ORIGIN).
	CORSOrigin string `koanf:"cors_origin"`

	// HistoryCap is the history length that triggers truncation.
	HistoryCap int `koanf:"history_cap"`

	// HistoryRetain is how many of the most recent entries survive truncation.
	HistoryRetain int `koanf:"history_retain"`

	// RatingMin and RatingMax bound accepted rating values.
	RatingMin float64 `koanf:"rating_min"`
	RatingMax float64 `koanf:"rating_max"`

	// InboxSize buffers commands waiting for the hub loop.
	InboxSize int `koanf:"inbox_size"`

	// SendBuffer bounds each client's outbound frame buffer.
	SendBuffer int `koanf:"send_buffer"`

	// MaxMessageBytes caps inbound websocket frames.
	MaxMessageBytes int64 `koanf:"max_message_bytes"`

	// PingIntervalMS, IdleTimeoutMS and WriteTimeoutMS drive connection liveness.
	PingIntervalMS int `koanf:"ping_interval_ms"`
	IdleTimeoutMS  int `koanf:"idle_timeout_ms"`
	WriteTimeoutMS int `koanf:"write_timeout_ms"`

	// Archive configures the optional durable rating archive.
	Archive ArchiveConfig `koanf:"archive"`
}

// ArchiveConfig configures the SQLite archive pipeline.
type ArchiveConfig struct {
	// DSN of the SQLite database; empty disables archiving.
	DSN string `koanf:"dsn"`

	// QueueSize bounds records waiting to be written.
	QueueSize int `koanf:"queue_size"`

	// Workers is the number of writer goroutines.
	Workers int `koanf:"workers"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Port:            3001,
		CORSOrigin:      "*",
		HistoryCap:      10_000,
		HistoryRetain:   5_000,
		RatingMin:       0,
		RatingMax:       100,
		InboxSize:       4096,
		SendBuffer:      256,
		MaxMessageBytes: 4096,
		PingIntervalMS:  25_000,
		IdleTimeoutMS:   60_000,
		WriteTimeoutMS:  10_000,
		Archive: ArchiveConfig{
			QueueSize: 10_000,
			Workers:   2,
		},
	}
}

// Addr returns the listen address built from Host and Port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Origins splits CORSOrigin into its allowed origins.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// PingInterval returns PingIntervalMS as a duration.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalMS) * time.Millisecond
}

// IdleTimeout returns IdleTimeoutMS as a duration.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMS) * time.Millisecond
}

// WriteTimeout returns WriteTimeoutMS as a duration.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}
