// Package metrics provides Prometheus metrics for the parcelcast service.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the parcelcast service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Realtime connection metrics
	wsConnections      *prometheus.GaugeVec
	wsConnectionsTotal *prometheus.CounterVec
	authFailures       *prometheus.CounterVec
	roomJoins          *prometheus.CounterVec
	roomCount          prometheus.Gauge

	// Fan-out metrics
	eventsPublished  *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	eventsMalformed  prometheus.Counter
	fanoutRecipients prometheus.Histogram
	backplaneErrors  *prometheus.CounterVec
	backplaneMode    prometheus.Gauge
	remoteEnvelopes  prometheus.Counter

	// Outbound queue metrics
	queueEnqueued prometheus.Counter
	queueRejected *prometheus.CounterVec

	// Forms metrics
	validationRuns     *prometheus.CounterVec
	validationFailures *prometheus.CounterVec

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rateLimited         *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	customRegistry.MustRegister(collectors.NewGoCollector())
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "parcelcast",
		subsystem:        "",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.wsConnections = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "ws_connections",
		Help:        "Number of active WebSocket connections",
		ConstLabels: m.customLabels,
	}, []string{"namespace"})
	m.wsConnectionsTotal = m.counterVec("ws_connections_total", "Total number of WebSocket connections accepted", "namespace")
	m.authFailures = m.counterVec("rt_auth_failures_total", "Real-time handshakes rejected, by reason", "reason")
	m.roomJoins = m.counterVec("rt_room_joins_total", "Room joins, by room kind", "kind")
	m.roomCount = m.gauge("rt_rooms", "Number of rooms with at least one local member")

	m.eventsPublished = m.counterVec("rt_events_published_total", "Domain events published, by type and delivery class", "type", "class")
	m.eventsDropped = m.counterVec("rt_events_dropped_total", "Per-connection deliveries not made, by type and reason", "type", "reason")
	m.eventsMalformed = m.counter("rt_events_malformed_total", "Domain events rejected at publish time")
	m.fanoutRecipients = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "rt_fanout_recipients",
		Help:        "Local connections reached per delivered event",
		Buckets:     []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		ConstLabels: m.customLabels,
	})
	m.backplaneErrors = m.counterVec("rt_backplane_errors_total", "Shared broadcast backend errors, by operation", "op")
	m.backplaneMode = m.gauge("rt_backplane_shared", "1 when a shared broadcast backend is active, 0 in single-process mode")
	m.remoteEnvelopes = m.counter("rt_backplane_received_total", "Envelopes received from other processes")

	m.queueEnqueued = m.counter("rt_outbound_enqueued_total", "Frames accepted into connection outbound queues")
	m.queueRejected = m.counterVec("rt_outbound_rejected_total", "Frames rejected by connection outbound queues, by reason", "reason")

	m.validationRuns = m.counterVec("forms_validations_total", "Metadata validations, by outcome", "outcome")
	m.validationFailures = m.counterVec("forms_field_errors_total", "Field-level validation errors, by code", "code")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_seconds",
		Help:        "HTTP request duration in seconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})
	m.rateLimited = m.counterVec("http_rate_limited_total", "Requests rejected by the rate limiter", "scope")
}

// Manager methods. Disabled managers record nothing.

func (m *Manager) ConnectionOpened(namespace string) {
	if !m.enabled {
		return
	}
	m.wsConnectionsTotal.WithLabelValues(namespace).Inc()
	m.wsConnections.WithLabelValues(namespace).Inc()
}

func (m *Manager) ConnectionClosed(namespace string) {
	if !m.enabled {
		return
	}
	m.wsConnections.WithLabelValues(namespace).Dec()
}

func (m *Manager) AuthFailure(reason string) {
	if m.enabled {
		m.authFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Manager) RoomJoined(kind string) {
	if m.enabled {
		m.roomJoins.WithLabelValues(kind).Inc()
	}
}

func (m *Manager) SetRoomCount(n int) {
	if m.enabled {
		m.roomCount.Set(float64(n))
	}
}

func (m *Manager) EventPublished(eventType, class string) {
	if m.enabled {
		m.eventsPublished.WithLabelValues(eventType, class).Inc()
	}
}

func (m *Manager) EventDropped(eventType, reason string) {
	if m.enabled {
		m.eventsDropped.WithLabelValues(eventType, reason).Inc()
	}
}

func (m *Manager) EventMalformed() {
	if m.enabled {
		m.eventsMalformed.Inc()
	}
}

func (m *Manager) FanoutRecipients(n int) {
	if m.enabled {
		m.fanoutRecipients.Observe(float64(n))
	}
}

func (m *Manager) BackplaneError(op string) {
	if m.enabled {
		m.backplaneErrors.WithLabelValues(op).Inc()
	}
}

func (m *Manager) SetBackplaneShared(shared bool) {
	if !m.enabled {
		return
	}
	if shared {
		m.backplaneMode.Set(1)
		return
	}
	m.backplaneMode.Set(0)
}

func (m *Manager) RemoteEnvelope() {
	if m.enabled {
		m.remoteEnvelopes.Inc()
	}
}

func (m *Manager) QueueEnqueued() {
	if m.enabled {
		m.queueEnqueued.Inc()
	}
}

func (m *Manager) QueueRejected(reason string) {
	if m.enabled {
		m.queueRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Manager) Validation(ok bool) {
	if !m.enabled {
		return
	}
	if ok {
		m.validationRuns.WithLabelValues("accepted").Inc()
		return
	}
	m.validationRuns.WithLabelValues("rejected").Inc()
}

func (m *Manager) FieldError(code string) {
	if m.enabled {
		m.validationFailures.WithLabelValues(code).Inc()
	}
}

func (m *Manager) HTTPRequest(endpoint, method, statusCode string, d time.Duration) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(d.Seconds())
}

func (m *Manager) RateLimited(scope string) {
	if m.enabled {
		m.rateLimited.WithLabelValues(scope).Inc()
	}
}

// Refresh sets the connection gauge of namespace and the room gauge from
// read every refresh interval until ctx ends, so drift from missed
// increments never outlives one interval.
func (m *Manager) Refresh(ctx context.Context, namespace string, read func() (connections, rooms int)) {
	if !m.enabled {
		return
	}
	go func() {
		ticker := time.NewTicker(m.refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				conns, rooms := read()
				m.wsConnections.WithLabelValues(namespace).Set(float64(conns))
				m.roomCount.Set(float64(rooms))
			}
		}
	}()
}

// Package-level recorders delegate to the global manager.

func RecordConnectionOpened(namespace string)          { globalManager.ConnectionOpened(namespace) }
func RecordConnectionClosed(namespace string)          { globalManager.ConnectionClosed(namespace) }
func RecordAuthFailure(reason string)                  { globalManager.AuthFailure(reason) }
func RecordRoomJoin(kind string)                       { globalManager.RoomJoined(kind) }
func UpdateRoomCount(n int)                            { globalManager.SetRoomCount(n) }
func RecordEventPublished(eventType, class string)     { globalManager.EventPublished(eventType, class) }
func RecordEventDropped(eventType, reason string)      { globalManager.EventDropped(eventType, reason) }
func RecordEventMalformed()                            { globalManager.EventMalformed() }
func RecordFanoutRecipients(n int)                     { globalManager.FanoutRecipients(n) }
func RecordBackplaneError(op string)                   { globalManager.BackplaneError(op) }
func UpdateBackplaneShared(shared bool)                { globalManager.SetBackplaneShared(shared) }
func RecordRemoteEnvelope()                            { globalManager.RemoteEnvelope() }
func RecordQueueEnqueue()                              { globalManager.QueueEnqueued() }
func RecordQueueRejected(reason string)                { globalManager.QueueRejected(reason) }
func RecordValidation(ok bool)                         { globalManager.Validation(ok) }
func RecordFieldError(code string)                     { globalManager.FieldError(code) }
func RecordRateLimited(scope string)                   { globalManager.RateLimited(scope) }
func RecordHTTPRequest(endpoint, method, statusCode string, d time.Duration) {
	globalManager.HTTPRequest(endpoint, method, statusCode, d)
}

// Default returns the global manager.
func Default() *Manager { return globalManager }

// GetRegistry returns the registry backing the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
