package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "PARCELCAST_"
	envFileVar = "PARCELCAST_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if PARCELCAST_CONFIG is set
//  3. env (prefix PARCELCAST_)
func Load(ctx context.Context) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path := os.Getenv(envFileVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// PARCELCAST_REDIS_URL -> redis_url. Flat keys keep underscores.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		if s == envFileVar {
			return ""
		}
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
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

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case !strings.HasPrefix(c.RTPath, "/"):
		return fmt.Errorf("%w: rt_path must start with /", ErrInvalidConfig)
	case c.CookieName == "":
		return fmt.Errorf("%w: cookie_name must not be empty", ErrInvalidConfig)
	case c.OutboundBuffer <= 0:
		return fmt.Errorf("%w: outbound_buffer must be positive", ErrInvalidConfig)
	case c.PingInterval <= 0:
		return fmt.Errorf("%w: ping_interval must be positive", ErrInvalidConfig)
	case c.IdleTimeout <= c.PingInterval:
		return fmt.Errorf("%w: idle_timeout must exceed ping_interval", ErrInvalidConfig)
	case c.ReliableTimeout <= 0:
		return fmt.Errorf("%w: reliable_timeout must be positive", ErrInvalidConfig)
	case c.MaxMessageBytes <= 0:
		return fmt.Errorf("%w: max_message_bytes must be positive", ErrInvalidConfig)
	case c.RTHandshakeLimit < 0:
		return fmt.Errorf("%w: rt_handshake_limit must not be negative", ErrInvalidConfig)
	}
	return nil
}
