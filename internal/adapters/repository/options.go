package repository

import (
	"time"

	"github.com/okian/parcelcast/pkg/logger"
)

// Option applies a configuration option to the Postgres store.
type Option func(*Postgres)

// WithQueryTimeout bounds every statement issued by the store.
func WithQueryTimeout(d time.Duration) Option {
	return func(p *Postgres) {
		if d > 0 {
			p.queryTimeout = d
		}
	}
}

// WithLogger sets a custom logger for the store.
func WithLogger(l logger.Logger) Option {
	return func(p *Postgres) {
		if l != nil {
			p.logger = l
		}
	}
}
