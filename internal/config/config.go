// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - New(ctx) returns a Config populated with defaults.
// - Load(ctx) layers a YAML file and environment variables on top.
// - Errors returned from Load wrap ErrLoadConfig or ErrInvalidConfig.
package config

import (
	"context"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects json (default) or console output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// RTPath is the WebSocket upgrade path for the realtime channel.
	RTPath string `koanf:"rt_path"`

	// RedisURL selects the shared backplane and key-value backend.
	// Empty runs the process in single-node mode.
	RedisURL string `koanf:"redis_url"`

	// RedisDialTimeout bounds the startup PING against Redis.
	RedisDialTimeout time.Duration `koanf:"redis_dial_timeout"`

	// DatabaseURL is a lib/pq connection string. Empty uses in-memory repositories.
	DatabaseURL string `koanf:"database_url"`

	// JWTAccessSecret verifies HS256 access tokens.
	JWTAccessSecret string `koanf:"jwt_access_secret"`

	// CookieName carries the access token on HTTP and realtime requests.
	CookieName string `koanf:"cookie_name"`

	// PingInterval is how often the server sends control pings.
	PingInterval time.Duration `koanf:"ping_interval"`

	// IdleTimeout closes a connection that sent nothing for this long.
	IdleTimeout time.Duration `koanf:"idle_timeout"`

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// OutboundBuffer is the per-connection outbound frame queue size.
	OutboundBuffer int `koanf:"outbound_buffer"`

	// ReliableTimeout bounds how long a reliable event waits for queue room
	// before the connection is evicted as a slow consumer.
	ReliableTimeout time.Duration `koanf:"reliable_timeout"`

	// BackplaneTimeout bounds a single backplane publish.
	BackplaneTimeout time.Duration `koanf:"backplane_timeout"`

	// AllowedOrigins is a comma-separated browser origin allowlist for the
	// realtime upgrade. "*" allows any origin.
	AllowedOrigins string `koanf:"allowed_origins"`

	// MaxMessageBytes caps inbound realtime frames.
	MaxMessageBytes int64 `koanf:"max_message_bytes"`

	// RTHandshakeLimit caps realtime handshakes per remote address per minute. 0 disables it.
	RTHandshakeLimit int `koanf:"rt_handshake_limit"`

	// RateLimits are per-minute request caps for mutating routes, keyed by ip and user.
	RateLimitCreate int `koanf:"rate_limit_create"`
	RateLimitUpdate int `koanf:"rate_limit_update"`
	RateLimitDelete int `koanf:"rate_limit_delete"`
	RateLimitScan   int `koanf:"rate_limit_scan"`
}

// New creates a Config populated with defaults. Context is accepted first to
// satisfy the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "json",
		Addr:             ":9080",
		RTPath:           "/rt",
		RedisDialTimeout: 2 * time.Second,
		CookieName:       "access_token",
		PingInterval:     20 * time.Second,
		IdleTimeout:      45 * time.Second,
		WriteTimeout:     10 * time.Second,
		OutboundBuffer:   256,
		ReliableTimeout:  2 * time.Second,
		BackplaneTimeout: time.Second,
		MaxMessageBytes:  1 << 20,
		RTHandshakeLimit: 0,
		RateLimitCreate:  30,
		RateLimitUpdate:  60,
		RateLimitDelete:  30,
		RateLimitScan:    120,
	}
}
