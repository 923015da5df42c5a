// Package realtime is the WebSocket fan-out core: it authenticates
// connections, tracks room membership and delivers domain events to every
// local member of their target rooms.
package realtime

import (
	"time"

	"github.com/okian/parcelcast/internal/adapters/backplane"
	"github.com/okian/parcelcast/pkg/logger"
	"github.com/okian/parcelcast/pkg/metrics"
)

// Default gateway configuration constants.
const (
	defaultNamespace       = "/rt"
	defaultPingInterval    = 20 * time.Second
	defaultIdleTimeout     = 45 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultOutboundBuffer  = 256
	defaultReliableTimeout = 2 * time.Second
	defaultMaxMessageBytes = 1 << 20
	controlTimeout         = time.Second
)

// Option applies a configuration option to the Gateway.
type Option func(*Gateway)

// WithBackplane sets the shared broadcast backend. Defaults to backplane.Local.
func WithBackplane(bp backplane.Backplane) Option {
	return func(g *Gateway) {
		if bp != nil {
			g.backplane = bp
		}
	}
}

// WithLogger sets a custom logger for the gateway.
func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics records gateway and dispatcher metrics on m instead of the
// process-wide manager.
func WithMetrics(m *metrics.Manager) Option {
	return func(g *Gateway) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithNamespace sets the path label reported in connection metrics.
func WithNamespace(ns string) Option {
	return func(g *Gateway) {
		if ns != "" {
			g.namespace = ns
		}
	}
}

// WithPingInterval sets how often idle connections are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.pingInterval = d
		}
	}
}

// WithIdleTimeout sets how long a connection may stay silent, pongs included.
func WithIdleTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.idleTimeout = d
		}
	}
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.writeTimeout = d
		}
	}
}

// WithOutboundBuffer sets the per-connection outbound queue capacity.
func WithOutboundBuffer(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.outboundBuffer = n
		}
	}
}

// WithReliableTimeout bounds how long a reliable delivery waits for room in
// a full outbound queue before the connection is evicted.
func WithReliableTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.reliableTimeout = d
		}
	}
}

// WithMaxMessageBytes caps inbound frame size.
func WithMaxMessageBytes(n int64) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxMessageBytes = n
		}
	}
}

// WithAllowedOrigins accepts cross-origin handshakes from the listed
// origins. "*" accepts any origin. Without it only same-origin requests
// and clients that send no Origin header are accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(g *Gateway) {
		for _, o := range origins {
			if o != "" {
				g.allowedOrigins[o] = struct{}{}
			}
		}
	}
}

// WithOrigin overrides the process identity stamped on backplane envelopes.
func WithOrigin(id string) Option {
	return func(g *Gateway) {
		if id != "" {
			g.origin = id
		}
	}
}

// WithClock sets the time source used for event timestamps and pongs.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}
