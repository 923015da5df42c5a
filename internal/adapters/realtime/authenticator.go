package realtime

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/okian/parcelcast/internal/adapters/kv"
	"github.com/okian/parcelcast/internal/adapters/token"
	"github.com/okian/parcelcast/internal/domain/identity"
)

// DefaultCookie is the cookie carrying the access token.
const DefaultCookie = "access_token"

// Authenticator turns a handshake request into an identity.
type Authenticator struct {
	verifier token.Verifier
	cookie   string
	limiter  *kv.Limiter
}

// NewAuthenticator reads the access token from cookie and checks it with v.
// A nil limiter disables handshake rate limiting.
func NewAuthenticator(v token.Verifier, cookie string, limiter *kv.Limiter) *Authenticator {
	if cookie == "" {
		cookie = DefaultCookie
	}
	return &Authenticator{verifier: v, cookie: cookie, limiter: limiter}
}

// Authenticate returns the identity carried by the request's auth cookie.
func (a *Authenticator) Authenticate(r *http.Request) (identity.Identity, error) {
	c, err := r.Cookie(a.cookie)
	if err != nil || c.Value == "" {
		return identity.Identity{}, fmt.Errorf("%w: no %s cookie", ErrUnauthorized, a.cookie)
	}
	id, err := a.verifier.Verify(c.Value)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return id, nil
}

// Admit applies the handshake rate limit to the client address. Limiter
// errors admit the client and are returned alongside for logging.
func (a *Authenticator) Admit(ctx context.Context, r *http.Request) error {
	ok, err := a.limiter.Allow(ctx, clientIP(r))
	if !ok {
		return ErrRateLimited
	}
	return err
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
