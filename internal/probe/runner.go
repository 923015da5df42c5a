package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/parcelcast/internal/adapters/token"
	"github.com/okian/parcelcast/internal/domain/identity"
	"github.com/okian/parcelcast/pkg/logger"
)

const tokenTTL = time.Hour

// ErrMisrouted is returned when a watcher saw events for another package.
var ErrMisrouted = errors.New("events delivered outside their rooms")

// ErrMissingReliable is returned when a reliable event never arrived.
var ErrMissingReliable = errors.New("reliable events missing")

// Each package is scanned twice: picked up with a fix, then delivered.
var (
	scans = []map[string]any{
		{"stage": "package_scanned", "gps": map[string]float64{"lat": 52.37, "lng": 4.89}},
		{"stage": "delivery_completed"},
	}
	expected = map[string]int{
		"scan.applied":       2,
		"location.changed":   1,
		"status.updated":     2,
		"delivery.completed": 1,
	}
	reliable = map[string]bool{"delivery.completed": true}
)

type tokens struct {
	manager, driver, viewer string
}

func mint(secret string) (tokens, error) {
	signer, err := token.NewHMAC(secret)
	if err != nil {
		return tokens{}, err
	}
	var t tokens
	for _, s := range []struct {
		dst  *string
		role identity.Role
	}{
		{&t.manager, identity.Manager},
		{&t.driver, identity.Driver},
		{&t.viewer, identity.Viewer},
	} {
		raw, err := signer.Sign(identity.Identity{UserID: "probe-" + string(s.role), Role: s.role}, tokenTTL)
		if err != nil {
			return tokens{}, err
		}
		*s.dst = raw
	}
	return t, nil
}

type createdPackage struct {
	ID      string `json:"id"`
	Barcode string `json:"barcode"`
}

// Run executes one probe against cfg.BaseURL.
func Run(ctx context.Context, cfg Config) (*Stats, error) {
	cfg.defaults()
	log := cfg.Logger
	start := time.Now()
	stats := &Stats{Missing: make(map[string]int)}

	tok, err := mint(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("mint tokens: %w", err)
	}
	client := newHTTPClient(strings.TrimRight(cfg.BaseURL, "/"), cfg.Cookie, cfg.Timeout)

	if err := client.do(ctx, "GET", "/healthz", "", nil, nil); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}
	log.Info(ctx, "service is healthy", logger.String("baseURL", cfg.BaseURL))

	run := uuid.NewString()[:8]
	pkgs := make([]createdPackage, 0, cfg.Packages)
	for i := range cfg.Packages {
		var p createdPackage
		body := map[string]any{
			"barcode":   fmt.Sprintf("PROBE-%s-%03d", run, i),
			"recipient": map[string]string{"name": "Probe", "address": "1 Probe Way"},
		}
		if err := client.do(ctx, "POST", "/v1/packages", tok.manager, body, &p); err != nil {
			return nil, fmt.Errorf("create package: %w", err)
		}
		pkgs = append(pkgs, p)
	}
	stats.PackagesCreated = len(pkgs)
	defer cleanup(ctx, client, tok.manager, pkgs, log)

	url := wsURL(strings.TrimRight(cfg.BaseURL, "/"), cfg.RTPath)
	watchers := make([]*watcher, 0, len(pkgs)*cfg.Watchers)
	defer func() {
		for _, w := range watchers {
			w.close()
		}
	}()
	for _, p := range pkgs {
		for range cfg.Watchers {
			w, err := dialWatcher(ctx, url, cfg.Cookie, tok.viewer, p.ID, cfg.Timeout)
			if err != nil {
				return nil, fmt.Errorf("watch %s: %w", p.ID, err)
			}
			watchers = append(watchers, w)
		}
	}
	stats.Watchers = len(watchers)
	log.Info(ctx, "watchers joined", logger.Int("watchers", len(watchers)), logger.Int("packages", len(pkgs)))

	for _, p := range pkgs {
		for _, scan := range scans {
			body := map[string]any{"barcode": p.Barcode}
			for k, v := range scan {
				body[k] = v
			}
			if err := client.do(ctx, "POST", "/v1/scan", tok.driver, body, nil); err != nil {
				return nil, fmt.Errorf("scan %s: %w", p.Barcode, err)
			}
			stats.ScansApplied++
		}
	}

	deadline := time.Now().Add(cfg.Settle)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, w := range watchers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.collect(expected, deadline); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("watcher of %s: %w", w.packageID, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	err = verify(watchers, stats)
	stats.Duration = time.Since(start)
	log.Info(ctx, "probe finished",
		logger.Int("packages", stats.PackagesCreated),
		logger.Int("scans", stats.ScansApplied),
		logger.Int("watchers", stats.Watchers),
		logger.Int("events", stats.EventsReceived),
		logger.Int("foreign", stats.Foreign),
		logger.Any("missing", stats.Missing),
		logger.Duration("duration", stats.Duration),
	)
	return stats, err
}

// verify tallies what the watchers saw. Missing best-effort events are
// reported but tolerated.
func verify(watchers []*watcher, stats *Stats) error {
	var missingReliable int
	for _, w := range watchers {
		stats.Foreign += w.foreign
		for _, n := range w.seen {
			stats.EventsReceived += n
		}
		for t, want := range expected {
			if got := w.seen[t]; got < want {
				stats.Missing[t] += want - got
				if reliable[t] {
					missingReliable += want - got
				}
			}
		}
	}
	var errs []error
	if stats.Foreign > 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrMisrouted, stats.Foreign))
	}
	if missingReliable > 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrMissingReliable, missingReliable))
	}
	return errors.Join(errs...)
}

// cleanup deletes the probe's packages.
func cleanup(ctx context.Context, client *httpClient, tok string, pkgs []createdPackage, log logger.Logger) {
	for _, p := range pkgs {
		if err := client.do(ctx, "DELETE", "/v1/packages/"+p.ID, tok, nil, nil); err != nil {
			log.Warn(ctx, "probe package not deleted", logger.String("package", p.ID), logger.Error(err))
		}
	}
}
