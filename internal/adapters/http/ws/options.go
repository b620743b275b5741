package ws

import (
	"strings"
	"time"

	"github.com/okian/perception/pkg/logger"
)

// Default transport settings.
const (
	defaultSendBuffer   = 256
	defaultMaxMessage   = 4096
	defaultPingInterval = 25 * time.Second
	defaultIdleTimeout  = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithOrigins sets the accepted Origin header values. "*" accepts any.
func WithOrigins(origins ...string) Option {
	return func(s *Server) {
		var cleaned []string
		for _, o := range origins {
			if o = strings.TrimSpace(o); o != "" {
				cleaned = append(cleaned, o)
			}
		}
		if len(cleaned) > 0 {
			s.origins = cleaned
		}
	}
}

// WithSendBuffer sets how many outbound frames a connection may queue.
func WithSendBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

// WithMaxMessageBytes caps inbound frame size.
func WithMaxMessageBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxMessage = n
		}
	}
}

// WithPingInterval sets how often the server pings each connection.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// WithIdleTimeout closes connections that send nothing, pongs included,
// for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
