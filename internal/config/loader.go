package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment keys.
const (
	EnvPrefix     = "PERCEPTION_"
	EnvConfigFile = "PERCEPTION_CONFIG"
)

// bareEnv maps the unprefixed variables the hub has always honoured.
var bareEnv = map[string]string{
	"WS_PORT":     "ws_port",
	"CORS_ORIGIN": "cors_origin",
}

// LoadDotEnv loads .env files from the working directory without overriding
// variables that are already set. Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env.local", ".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("%w: %s: %w", ErrLoadConfig, p, err)
		}
	}
	return nil
}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if PERCEPTION_CONFIG is set
//  3. bare WS_PORT / CORS_ORIGIN
//  4. env (prefix PERCEPTION_, "__" separates nested keys: PERCEPTION_ARCHIVE__DSN)
func Load() (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	bare := env.Provider("", ".", func(s string) string {
		return bareEnv[s]
	})
	if err := k.Load(bare, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	prefixed := env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		if s == "CONFIG" {
			return ""
		}
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(prefixed, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("%w: ws_port %d out of range", ErrInvalidConfig, c.Port)
	case len(c.Origins()) == 0:
		return fmt.Errorf("%w: cors_origin must not be empty", ErrInvalidConfig)
	case c.HistoryRetain <= 0 || c.HistoryCap < c.HistoryRetain:
		return fmt.Errorf("%w: need 0 < history_retain <= history_cap (got %d, %d)", ErrInvalidConfig, c.HistoryRetain, c.HistoryCap)
	case c.RatingMin >= c.RatingMax:
		return fmt.Errorf("%w: rating_min must be below rating_max", ErrInvalidConfig)
	case c.InboxSize <= 0 || c.SendBuffer <= 0:
		return fmt.Errorf("%w: inbox_size and send_buffer must be positive", ErrInvalidConfig)
	case c.IdleTimeoutMS > 0 && c.PingIntervalMS >= c.IdleTimeoutMS:
		return fmt.Errorf("%w: ping_interval_ms must be shorter than idle_timeout_ms", ErrInvalidConfig)
	case c.Archive.DSN != "" && (c.Archive.QueueSize <= 0 || c.Archive.Workers <= 0):
		return fmt.Errorf("%w: archive queue_size and workers must be positive", ErrInvalidConfig)
	}
	return nil
}
