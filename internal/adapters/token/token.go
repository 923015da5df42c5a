// Package token verifies HS256 access tokens carried in the auth cookie.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/okian/parcelcast/internal/domain/identity"
)

// Access is the only token type accepted by Verify.
const Access = "access"

var (
	// ErrInvalidToken covers missing, malformed, expired and wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid access token")
	// ErrNoSecret is returned when the HMAC secret is empty.
	ErrNoSecret = errors.New("token secret is empty")
)

// Claims mirrors the access token payload.
type Claims struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// Verifier checks access tokens.
type Verifier interface {
	Verify(raw string) (identity.Identity, error)
}

// HMAC signs and verifies HS256 tokens with one shared secret.
type HMAC struct {
	secret []byte
	now    func() time.Time
}

var _ Verifier = (*HMAC)(nil)

// NewHMAC returns an HMAC token codec.
func NewHMAC(secret string) (*HMAC, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &HMAC{secret: []byte(secret), now: time.Now}, nil
}

// Verify parses raw and returns the identity it carries.
func (h *HMAC) Verify(raw string) (identity.Identity, error) {
	if raw == "" {
		return identity.Identity{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return h.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(h.now),
	)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Type != Access {
		return identity.Identity{}, fmt.Errorf("%w: token type %q", ErrInvalidToken, c.Type)
	}
	if c.ID == "" {
		return identity.Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	role, err := identity.ParseRole(c.Role)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return identity.Identity{UserID: c.ID, Role: role, Email: c.Email}, nil
}

// Sign issues an access token for id valid for ttl. Used by tests and the
// probe client; the service itself never issues tokens.
func (h *HMAC) Sign(id identity.Identity, ttl time.Duration) (string, error) {
	now := h.now()
	c := Claims{
		ID:    id.UserID,
		Role:  string(id.Role),
		Email: id.Email,
		Type:  Access,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(h.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// WithClock replaces the time source. Used by tests.
func (h *HMAC) WithClock(now func() time.Time) *HMAC {
	h.now = now
	return h
}
