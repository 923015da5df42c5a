package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test_namespace"),
				WithSubsystem("test_subsystem"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithMetricsEnabled(true),
				WithRefreshInterval(10*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "test_namespace")
				So(manager.refreshInterval, ShouldEqual, 10*time.Second)
			})
		})
	})
}

func TestManagerRecording(t *testing.T) {
	Convey("Given a manager on its own registry", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(WithPrometheusRegistry(registry))

		Convey("When connections open and close", func() {
			m.ConnectionOpened("/rt")
			m.ConnectionOpened("/rt")
			m.ConnectionClosed("/rt")

			Convey("Then the gauge tracks live connections and the counter totals", func() {
				So(testutil.ToFloat64(m.wsConnections.WithLabelValues("/rt")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.wsConnectionsTotal.WithLabelValues("/rt")), ShouldEqual, 2)
			})
		})

		Convey("When events are published and dropped", func() {
			m.EventPublished("location.changed", "best_effort")
			m.EventDropped("location.changed", "buffer_full")
			m.EventDropped("location.changed", "buffer_full")

			Convey("Then both counters carry the event type", func() {
				So(testutil.ToFloat64(m.eventsPublished.WithLabelValues("location.changed", "best_effort")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.eventsDropped.WithLabelValues("location.changed", "buffer_full")), ShouldEqual, 2)
			})
		})

		Convey("When the backplane mode flips", func() {
			m.SetBackplaneShared(true)
			So(testutil.ToFloat64(m.backplaneMode), ShouldEqual, 1)
			m.SetBackplaneShared(false)
			So(testutil.ToFloat64(m.backplaneMode), ShouldEqual, 0)
		})

		Convey("When validations run", func() {
			m.Validation(true)
			m.Validation(false)
			m.FieldError("invalid_selection")

			So(testutil.ToFloat64(m.validationRuns.WithLabelValues("accepted")), ShouldEqual, 1)
			So(testutil.ToFloat64(m.validationRuns.WithLabelValues("rejected")), ShouldEqual, 1)
			So(testutil.ToFloat64(m.validationFailures.WithLabelValues("invalid_selection")), ShouldEqual, 1)
		})
	})
}

func TestRefresh(t *testing.T) {
	Convey("Given a manager refreshing from a gauge source", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(WithPrometheusRegistry(registry), WithRefreshInterval(5*time.Millisecond))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		m.ConnectionOpened("/rt")
		m.Refresh(ctx, "/rt", func() (int, int) { return 3, 7 })

		Convey("Then the gauges converge on the reported values", func() {
			deadline := time.Now().Add(time.Second)
			for time.Now().Before(deadline) && testutil.ToFloat64(m.roomCount) != 7 {
				time.Sleep(5 * time.Millisecond)
			}
			So(testutil.ToFloat64(m.roomCount), ShouldEqual, 7)
			So(testutil.ToFloat64(m.wsConnections.WithLabelValues("/rt")), ShouldEqual, 3)
		})
	})
}

func TestDisabledManager(t *testing.T) {
	Convey("Given a disabled manager", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(WithPrometheusRegistry(registry), WithMetricsEnabled(false))

		Convey("Then recording is a no-op", func() {
			m.ConnectionOpened("/rt")
			m.EventMalformed()
			So(testutil.ToFloat64(m.wsConnectionsTotal.WithLabelValues("/rt")), ShouldEqual, 0)
			So(testutil.ToFloat64(m.eventsMalformed), ShouldEqual, 0)
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global recorders", t, func() {
		Convey("Then they should not panic", func() {
			So(func() {
				RecordConnectionOpened("/rt")
				RecordConnectionClosed("/rt")
				RecordAuthFailure("unauthorized")
				RecordRoomJoin("package")
				UpdateRoomCount(3)
				RecordEventPublished("package.created", "reliable")
				RecordEventDropped("scan.applied", "buffer_full")
				RecordEventMalformed()
				RecordFanoutRecipients(4)
				RecordBackplaneError("publish")
				UpdateBackplaneShared(false)
				RecordRemoteEnvelope()
				RecordQueueEnqueue()
				RecordQueueRejected("full")
				RecordValidation(true)
				RecordFieldError("required")
				RecordRateLimited("packages.create")
				RecordHTTPRequest("packages", "POST", "201", 15*time.Millisecond)
			}, ShouldNotPanic)
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
