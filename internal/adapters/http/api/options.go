package api

import (
	"net/http"
	"time"

	"github.com/okian/parcelcast/internal/adapters/kv"
	"github.com/okian/parcelcast/pkg/logger"
)

const (
	defaultCookie = "access_token"
	limitWindow   = time.Minute
)

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithCookie sets the cookie that carries the access token.
func WithCookie(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.cookie = name
		}
	}
}

// WithRateLimits caps requests per minute for each scope, keyed by client
// address and user. Scopes without a positive limit are not limited.
func WithRateLimits(store kv.Store, perMinute map[string]int) Option {
	return func(s *Server) {
		if store == nil {
			return
		}
		s.kv = store
		for scope, n := range perMinute {
			if n > 0 {
				s.limits[scope] = n
			}
		}
	}
}

// WithRealtime mounts the realtime upgrade handler at path.
func WithRealtime(path string, h http.Handler) Option {
	return func(s *Server) {
		if path != "" && h != nil {
			s.rtPath = path
			s.realtime = h
		}
	}
}

// WithLogger sets a custom logger for the server.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
