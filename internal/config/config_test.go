package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/parcelcast/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.RTPath, convey.ShouldEqual, "/rt")
			convey.So(cfg.CookieName, convey.ShouldEqual, "access_token")
			convey.So(cfg.PingInterval, convey.ShouldEqual, 20*time.Second)
			convey.So(cfg.MaxMessageBytes, convey.ShouldEqual, 1<<20)
			convey.So(cfg.RateLimitCreate, convey.ShouldEqual, 30)
			convey.So(cfg.RateLimitUpdate, convey.ShouldEqual, 60)
			convey.So(cfg.RateLimitDelete, convey.ShouldEqual, 30)
			convey.So(cfg.RateLimitScan, convey.ShouldEqual, 120)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("When idle timeout does not exceed the ping interval", func() {
			cfg.IdleTimeout = cfg.PingInterval
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})

		convey.Convey("When the realtime path is relative", func() {
			cfg.RTPath = "rt"
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})

		convey.Convey("When the outbound buffer is zero", func() {
			cfg.OutboundBuffer = 0
			convey.So(cfg.Validate(), convey.ShouldWrap, config.ErrInvalidConfig)
		})
	})
}
