package token_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/parcelcast/internal/adapters/token"
	"github.com/okian/parcelcast/internal/domain/identity"
)

func TestHMACRoundTrip(t *testing.T) {
	h, err := token.NewHMAC("s3cret")
	require.NoError(t, err)

	want := identity.Identity{UserID: "U1", Role: identity.Driver, Email: "d@example.com"}
	raw, err := h.Sign(want, time.Hour)
	require.NoError(t, err)

	got, err := h.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestHMACRejects(t *testing.T) {
	h, err := token.NewHMAC("s3cret")
	require.NoError(t, err)
	driver := identity.Identity{UserID: "U1", Role: identity.Driver}

	t.Run("empty", func(t *testing.T) {
		_, err := h.Verify("")
		assert.ErrorIs(t, err, token.ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := h.Verify("not.a.jwt")
		assert.ErrorIs(t, err, token.ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		past := time.Now().Add(-2 * time.Hour)
		old, err := token.NewHMAC("s3cret")
		require.NoError(t, err)
		raw, err := old.WithClock(func() time.Time { return past }).Sign(driver, time.Hour)
		require.NoError(t, err)

		_, err = h.Verify(raw)
		assert.ErrorIs(t, err, token.ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := token.NewHMAC("other")
		require.NoError(t, err)
		raw, err := other.Sign(driver, time.Hour)
		require.NoError(t, err)

		_, err = h.Verify(raw)
		assert.ErrorIs(t, err, token.ErrInvalidToken)
	})

	t.Run("refresh token", func(t *testing.T) {
		c := token.Claims{ID: "U1", Role: "driver", Type: "refresh", RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("s3cret"))
		require.NoError(t, err)

		_, err = h.Verify(raw)
		assert.ErrorIs(t, err, token.ErrInvalidToken)
	})

	t.Run("unknown role", func(t *testing.T) {
		raw, err := h.Sign(identity.Identity{UserID: "U1", Role: "root"}, time.Hour)
		require.NoError(t, err)

		_, err = h.Verify(raw)
		assert.ErrorIs(t, err, token.ErrInvalidToken)
	})

	t.Run("no secret", func(t *testing.T) {
		_, err := token.NewHMAC("")
		assert.ErrorIs(t, err, token.ErrNoSecret)
	})
}
