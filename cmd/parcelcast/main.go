package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/parcelcast/internal/adapters/http/api"
	"github.com/okian/parcelcast/internal/adapters/http/swagger"
	app "github.com/okian/parcelcast/internal/app"
	"github.com/okian/parcelcast/internal/config"
	"github.com/okian/parcelcast/pkg/logger"
)

// HTTP server timeout constants. WriteTimeout stays zero: upgraded realtime
// connections manage their own deadlines.
const (
	readTimeout       = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// Use fmt for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.InitWithOptions(logger.Options{Format: cfg.LogFormat, Service: "parcelcast"}); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	rt, err := app.Bootstrap(ctx, cfg, log)
	if err != nil {
		log.Fatal(ctx, "failed to start", logger.Error(err))
	}

	// HTTP mux and routes.
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)

	apiServer := api.NewServer(rt.Service, rt.Verifier,
		api.WithCookie(cfg.CookieName),
		api.WithLogger(log),
		api.WithRealtime(cfg.RTPath, rt.Gateway),
		api.WithRateLimits(rt.KV, map[string]int{
			api.ScopeCreate: cfg.RateLimitCreate,
			api.ScopeUpdate: cfg.RateLimitUpdate,
			api.ScopeDelete: cfg.RateLimitDelete,
			api.ScopeScan:   cfg.RateLimitScan,
		}),
	)
	apiServer.Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("rt_path", cfg.RTPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked realtime connections are not tracked by Shutdown; the gateway
	// closes them with going-away.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	if err := rt.Close(shutdownCtx); err != nil {
		log.Error(ctx, "runtime shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}
