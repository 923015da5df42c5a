// Package probe drives a running parcelcast instance end to end: it creates
// packages over HTTP, listens on the realtime channel and checks that scans
// reach exactly the connections watching each package.
package probe

import (
	"time"

	"github.com/okian/parcelcast/pkg/logger"
)

// Config holds configuration for a probe run.
type Config struct {
	BaseURL  string        // Base URL of the service
	RTPath   string        // Realtime upgrade path
	Secret   string        // HS256 secret used to mint access tokens
	Cookie   string        // Cookie carrying the access token
	Packages int           // Packages to create and scan
	Watchers int           // Realtime connections per package
	Timeout  time.Duration // HTTP request and dial timeout
	Settle   time.Duration // How long watchers wait for expected events
	Logger   logger.Logger
}

// Default probe settings.
const (
	DefaultPackages = 5
	DefaultWatchers = 2
	DefaultTimeout  = 10 * time.Second
	DefaultSettle   = 3 * time.Second
)

func (c *Config) defaults() {
	if c.RTPath == "" {
		c.RTPath = "/rt"
	}
	if c.Cookie == "" {
		c.Cookie = "access_token"
	}
	if c.Packages <= 0 {
		c.Packages = DefaultPackages
	}
	if c.Watchers <= 0 {
		c.Watchers = DefaultWatchers
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Settle <= 0 {
		c.Settle = DefaultSettle
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
}

// Stats holds probe results.
type Stats struct {
	PackagesCreated int
	ScansApplied    int
	Watchers        int
	EventsReceived  int
	// Missing counts expected events a watcher never saw, by event type.
	Missing map[string]int
	// Foreign counts events delivered to a watcher of another package.
	Foreign  int
	Duration time.Duration
}
