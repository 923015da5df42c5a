package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/parcelcast/internal/domain/identity"
	"github.com/okian/parcelcast/pkg/logger"
	"github.com/okian/parcelcast/pkg/metrics"
)

// MetricsMiddleware wraps HTTP handlers to record Prometheus metrics.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		metrics.RecordHTTPRequest(endpoint, r.Method, strconv.Itoa(wrapped.statusCode), time.Since(start))
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

type identityKey struct{}

// IdentityFrom returns the caller authenticated by the guard.
func IdentityFrom(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(identity.Identity)
	return id, ok
}

func actor(r *http.Request) identity.Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}

// guard admits requests whose access cookie verifies and whose role is at
// least floor.
func (s *Server) guard(floor identity.Role, next http.HandlerFunc) http.HandlerFunc {
	const op = "api.guard"
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(s.cookie)
		if err != nil || c.Value == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", NewKind(op, ErrUnauthorized))
			return
		}
		id, err := s.verifier.Verify(c.Value)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", NewKind(op, ErrUnauthorized))
			return
		}
		if !id.Role.AtLeast(floor) {
			writeError(w, http.StatusForbidden, "forbidden", NewKind(op, ErrForbidden))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	}
}

// rateLimit rejects callers over the limiter's budget with 429. Limiter
// failures let the request through.
func (s *Server) rateLimit(l limiter, scope string, next http.HandlerFunc) http.HandlerFunc {
	const op = "api.rate_limit"
	return func(w http.ResponseWriter, r *http.Request) {
		key := remoteHost(r) + ":" + actor(r).UserID
		ok, err := l.Allow(r.Context(), key)
		if err != nil {
			s.logger.Warn(r.Context(), "rate limiter unavailable", logger.String("scope", scope), logger.Error(err))
		}
		if !ok && err == nil {
			metrics.RecordRateLimited(scope)
			w.Header().Set("Retry-After", strconv.Itoa(int(limitWindow.Seconds())))
			writeError(w, http.StatusTooManyRequests, "rate_limited", NewKind(op, ErrRateLimited))
			return
		}
		next(w, r)
	}
}

type limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
