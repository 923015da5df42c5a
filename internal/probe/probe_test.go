package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okian/parcelcast/internal/adapters/http/api"
	service "github.com/okian/parcelcast/internal/app"
	"github.com/okian/parcelcast/internal/config"
)

const secret = "probe-secret"

func startStack(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	cfg := config.New(ctx)
	cfg.JWTAccessSecret = secret

	rt, err := service.Bootstrap(ctx, cfg, nil)
	require.NoError(t, err)

	mux := http.NewServeMux()
	api.NewServer(rt.Service, rt.Verifier, api.WithRealtime(cfg.RTPath, rt.Gateway)).Register(ctx, mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rt.Close(closeCtx)
	})
	return srv
}

func TestRunAgainstStack(t *testing.T) {
	srv := startStack(t)

	stats, err := Run(context.Background(), Config{
		BaseURL:  srv.URL,
		Secret:   secret,
		Packages: 3,
		Watchers: 2,
		Settle:   2 * time.Second,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.PackagesCreated)
	assert.Equal(t, 6, stats.ScansApplied)
	assert.Equal(t, 6, stats.Watchers)
	assert.Zero(t, stats.Foreign)
	assert.Empty(t, stats.Missing)
	assert.Equal(t, 6*6, stats.EventsReceived)
}

func TestRunWrongSecret(t *testing.T) {
	srv := startStack(t)

	_, err := Run(context.Background(), Config{BaseURL: srv.URL, Secret: "other", Packages: 1, Watchers: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestVerify(t *testing.T) {
	w := &watcher{packageID: "P1", seen: map[string]int{
		"scan.applied":     2,
		"location.changed": 1,
		"status.updated":   1,
	}, foreign: 1}
	stats := &Stats{Missing: map[string]int{}}

	err := verify([]*watcher{w}, stats)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMisrouted))
	assert.True(t, errors.Is(err, ErrMissingReliable))
	assert.Equal(t, map[string]int{"status.updated": 1, "delivery.completed": 1}, stats.Missing)
	assert.Equal(t, 4, stats.EventsReceived)
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:9080/rt", wsURL("http://localhost:9080", "/rt"))
	assert.Equal(t, "wss://example.com/rt", wsURL("https://example.com", "/rt"))
}
