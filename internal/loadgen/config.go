// Package loadgen drives a running hub with simulated participants over
// WebSocket and checks the result through the HTTP API.
package loadgen

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// Default configuration constants.
const (
	DefaultBaseURL      = "http://localhost:3001"
	DefaultSessions     = 4
	DefaultParticipants = 25
	DefaultRate         = 4.0
	DefaultDuration     = 30 * time.Second
	DefaultTimeout      = 10 * time.Second
	DefaultPrefix       = "load"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL       string        // Base URL of the service
	Sessions      int           // Number of sessions to open
	Participants  int           // Participants per session
	Rate          float64       // Ratings per second per participant
	Duration      time.Duration // How long participants keep rating
	Timeout       time.Duration // HTTP request and handshake timeout
	SessionPrefix string        // Prefix of generated session ids
	OutputFile    string        // Optional JSON report path
}

// DefaultConfig returns a Config with defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       DefaultBaseURL,
		Sessions:      DefaultSessions,
		Participants:  DefaultParticipants,
		Rate:          DefaultRate,
		Duration:      DefaultDuration,
		Timeout:       DefaultTimeout,
		SessionPrefix: DefaultPrefix,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.Sessions < 1:
		return fmt.Errorf("%w: sessions must be positive", ErrInvalidConfig)
	case c.Participants < 1:
		return fmt.Errorf("%w: participants must be positive", ErrInvalidConfig)
	case c.Rate <= 0:
		return fmt.Errorf("%w: rate must be positive", ErrInvalidConfig)
	case c.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidConfig)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if _, err := c.wsURL("s", "p"); err != nil {
		return err
	}
	return nil
}

// interval is the pause between two ratings of one participant.
func (c *Config) interval() time.Duration {
	return time.Duration(float64(time.Second) / c.Rate)
}

// wsURL builds the handshake URL of one participant.
func (c *Config) wsURL(session, participant string) (string, error) {
	u, err := url.Parse(strings.TrimRight(c.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidConfig)
	}
	u.Path += "/ws"
	q := url.Values{}
	q.Set("sessionId", session)
	q.Set("participantId", participant)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// httpURL returns BaseURL with a ws scheme mapped back to http.
func (c *Config) httpURL(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "ws://"):
		base = "http://" + strings.TrimPrefix(base, "ws://")
	case strings.HasPrefix(base, "wss://"):
		base = "https://" + strings.TrimPrefix(base, "wss://")
	}
	return base + path
}

// Stats holds live counters of a run.
type Stats struct {
	Connected          atomic.Int64
	ConnectFailed      atomic.Int64
	RatingsSent        atomic.Int64
	SendErrors         atomic.Int64
	AggregatesReceived atomic.Int64
	DeltasReceived     atomic.Int64
	Joins              atomic.Int64
	Leaves             atomic.Int64
}

// Report is the outcome of a run.
type Report struct {
	Sessions           []SessionReport `json:"sessions"`
	Connected          int64           `json:"connected"`
	ConnectFailed      int64           `json:"connectFailed"`
	RatingsSent        int64           `json:"ratingsSent"`
	SendErrors         int64           `json:"sendErrors"`
	AggregatesReceived int64           `json:"aggregatesReceived"`
	DeltasReceived     int64           `json:"deltasReceived"`
	Joins              int64           `json:"joins"`
	Leaves             int64           `json:"leaves"`
	TrackedSessions    int             `json:"trackedSessions"`
	StartTime          time.Time       `json:"startTime"`
	EndTime            time.Time       `json:"endTime"`
	Duration           time.Duration   `json:"duration"`
	RatingsPerSecond   float64         `json:"ratingsPerSecond"`
}

// SessionReport is the server's view of one generated session after the run.
type SessionReport struct {
	SessionID     string  `json:"sessionId"`
	RatingsSent   int64   `json:"ratingsSent"`
	Tracked       bool    `json:"tracked"`
	HistoryLength int     `json:"historyLength"`
	Mean          float64 `json:"mean"`
}
