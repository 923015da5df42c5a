package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/okian/parcelcast/internal/adapters/backplane"
	"github.com/okian/parcelcast/internal/adapters/kv"
	"github.com/okian/parcelcast/internal/adapters/realtime"
	"github.com/okian/parcelcast/internal/adapters/repository"
	"github.com/okian/parcelcast/internal/adapters/token"
	"github.com/okian/parcelcast/internal/config"
	"github.com/okian/parcelcast/pkg/logger"
	"github.com/okian/parcelcast/pkg/metrics"
)

const handshakeWindow = time.Minute

// Runtime is the wired process: storage, realtime gateway and service.
type Runtime struct {
	Config   *config.Config
	Service  *Service
	Gateway  *realtime.Gateway
	Verifier token.Verifier
	// KV backs the HTTP and handshake rate limiters.
	KV kv.Store

	store     repository.Store
	backplane backplane.Backplane
	redis     *redis.Client
	logger    logger.Logger
}

// Bootstrap wires every component from cfg. A Redis that cannot be reached
// degrades to single-process mode; an empty database URL uses in-memory
// repositories. Neither fails startup.
func Bootstrap(ctx context.Context, cfg *config.Config, log logger.Logger) (*Runtime, error) {
	if log == nil {
		log = logger.Nop()
	}
	rt := &Runtime{Config: cfg, logger: log.Named("bootstrap")}

	verifier, err := token.NewHMAC(cfg.JWTAccessSecret)
	if err != nil {
		return nil, fmt.Errorf("token verifier: %w", err)
	}
	rt.Verifier = verifier

	rt.connectRedis(ctx)

	store, err := rt.openStore(ctx)
	if err != nil {
		return nil, err
	}
	rt.store = store

	limiter := kv.NewLimiter(rt.KV, "rl:rt:", cfg.RTHandshakeLimit, handshakeWindow)
	auth := realtime.NewAuthenticator(verifier, cfg.CookieName, limiter)
	opts := []realtime.Option{
		realtime.WithLogger(log),
		realtime.WithNamespace(cfg.RTPath),
		realtime.WithPingInterval(cfg.PingInterval),
		realtime.WithIdleTimeout(cfg.IdleTimeout),
		realtime.WithWriteTimeout(cfg.WriteTimeout),
		realtime.WithOutboundBuffer(cfg.OutboundBuffer),
		realtime.WithReliableTimeout(cfg.ReliableTimeout),
		realtime.WithMaxMessageBytes(cfg.MaxMessageBytes),
		realtime.WithAllowedOrigins(splitList(cfg.AllowedOrigins)...),
	}
	if err := rt.startGateway(ctx, auth, opts); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}

	dispatcher := realtime.NewDispatcher(rt.Gateway,
		realtime.WithBackplaneTimeout(cfg.BackplaneTimeout),
		realtime.WithDispatcherLogger(log),
	)
	rt.Service = New(store, dispatcher, WithLogger(log), WithStatsSource(rt.Gateway))
	return rt, nil
}

// startGateway starts the gateway on rt.backplane. A shared backplane that
// cannot subscribe is replaced by the local one.
func (rt *Runtime) startGateway(ctx context.Context, auth *realtime.Authenticator, opts []realtime.Option) error {
	gw := realtime.NewGateway(auth, append(opts, realtime.WithBackplane(rt.backplane))...)
	err := gw.Start(ctx)
	if err == nil {
		rt.Gateway = gw
		return nil
	}
	_ = gw.Close(ctx)
	if !rt.backplane.Shared() {
		return fmt.Errorf("start gateway: %w", err)
	}

	rt.logger.Warn(ctx, "backplane subscribe failed, running single-process", logger.Error(err))
	if cerr := rt.backplane.Close(); cerr != nil {
		rt.logger.Warn(ctx, "close backplane", logger.Error(cerr))
	}
	rt.backplane = backplane.Local{}
	metrics.UpdateBackplaneShared(false)

	gw = realtime.NewGateway(auth, append(opts, realtime.WithBackplane(rt.backplane))...)
	if err := gw.Start(ctx); err != nil {
		_ = gw.Close(ctx)
		return fmt.Errorf("start gateway: %w", err)
	}
	rt.Gateway = gw
	return nil
}

func (rt *Runtime) connectRedis(ctx context.Context) {
	rt.KV = kv.NewMemory()
	rt.backplane = backplane.Local{}
	if rt.Config.RedisURL == "" {
		rt.logger.Warn(ctx, "no redis configured, running single-process")
		metrics.UpdateBackplaneShared(false)
		return
	}
	client, err := kv.Dial(ctx, rt.Config.RedisURL, rt.Config.RedisDialTimeout)
	if err != nil {
		rt.logger.Warn(ctx, "redis unavailable, running single-process", logger.Error(err))
		metrics.UpdateBackplaneShared(false)
		return
	}
	rt.redis = client
	rt.KV = kv.NewRedis(client)
	rt.backplane = backplane.NewRedis(client, backplane.WithLogger(rt.logger))
	metrics.UpdateBackplaneShared(true)
	rt.logger.Info(ctx, "redis backplane active")
}

func (rt *Runtime) openStore(ctx context.Context) (repository.Store, error) {
	if rt.Config.DatabaseURL == "" {
		rt.logger.Warn(ctx, "no database configured, records are kept in memory")
		return repository.NewMemory(), nil
	}
	pg, err := repository.Open(ctx, rt.Config.DatabaseURL, repository.WithLogger(rt.logger))
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		_ = pg.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return pg, nil
}

// Close stops the gateway and releases backends.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.Gateway != nil {
		if err := rt.Gateway.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if rt.backplane != nil {
		if err := rt.backplane.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close backplane: %w", err))
		}
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
