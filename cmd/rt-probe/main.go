package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/okian/parcelcast/internal/probe"
	"github.com/okian/parcelcast/pkg/logger"
)

const runTimeout = 5 * time.Minute

func main() {
	var (
		baseURL  = pflag.StringP("url", "u", "http://localhost:9080", "Base URL of the service")
		rtPath   = pflag.String("rt-path", "/rt", "Realtime upgrade path")
		secret   = pflag.String("secret", os.Getenv("PARCELCAST_JWT_ACCESS_SECRET"), "HS256 secret used to mint access tokens")
		cookie   = pflag.String("cookie", "access_token", "Cookie carrying the access token")
		packages = pflag.IntP("packages", "p", probe.DefaultPackages, "Packages to create and scan")
		watchers = pflag.IntP("watchers", "w", probe.DefaultWatchers, "Realtime connections per package")
		timeout  = pflag.Duration("timeout", probe.DefaultTimeout, "HTTP request and dial timeout")
		settle   = pflag.Duration("settle", probe.DefaultSettle, "How long watchers wait for expected events")
		format   = pflag.String("log-format", "console", "Log format: console or json")
	)
	pflag.Parse()

	if err := logger.InitWithOptions(logger.Options{Format: *format, Service: "rt-probe"}); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	log := logger.Named("probe")
	_, err := probe.Run(ctx, probe.Config{
		BaseURL:  *baseURL,
		RTPath:   *rtPath,
		Secret:   *secret,
		Cookie:   *cookie,
		Packages: *packages,
		Watchers: *watchers,
		Timeout:  *timeout,
		Settle:   *settle,
		Logger:   log,
	})
	if err != nil {
		log.Error(ctx, "probe failed", logger.Error(err))
		cancel()
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}
