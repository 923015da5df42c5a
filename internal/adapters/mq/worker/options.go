// Package worker runs the write pumps that drain connection outbound queues.
package worker

import (
	"time"

	"github.com/okian/parcelcast/pkg/logger"
)

// Option applies a configuration option to the Pump.
type Option func(*Pump)

// WithName sets the pump name for identification and logging.
func WithName(name string) Option {
	return func(p *Pump) {
		if name != "" {
			p.name = name
		}
	}
}

// WithLogger sets a custom logger for the pump.
func WithLogger(l logger.Logger) Option {
	return func(p *Pump) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithHeartbeat makes the pump call Writer.Ping every interval.
func WithHeartbeat(interval time.Duration) Option {
	return func(p *Pump) {
		if interval > 0 {
			p.heartbeat = interval
		}
	}
}

// WithExitHook registers fn to run once when the pump stops. err is the
// write error that stopped it, or nil for a requested stop.
func WithExitHook(fn func(err error)) Option {
	return func(p *Pump) {
		if fn != nil {
			p.onExit = fn
		}
	}
}
