package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "draftbot"

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	gatewayStatus     prometheus.Gauge
	gatewayReconnects prometheus.Counter
	gatewayErrors     *prometheus.CounterVec
	heartbeatLatency  prometheus.Histogram
	framesSent        *prometheus.CounterVec
	rateLimitWaits    prometheus.Counter
	dispatches        *prometheus.CounterVec
	interactions      *prometheus.CounterVec
	overlayViewers    prometheus.Gauge
	overlayUpdates    prometheus.Counter
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		gatewayStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "status",
			Help:      "Gateway connection status (0 idle, 1 connecting, 2 resuming, 3 ready)",
		}),
		gatewayReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "reconnects_total",
			Help:      "Total reconnection attempts",
		}),
		gatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "errors_total",
			Help:      "Gateway errors by kind",
		}, []string{"kind"}),
		heartbeatLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "heartbeat_latency_seconds",
			Help:      "Time between a heartbeat and its acknowledgment",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "frames_sent_total",
			Help:      "Frames written to the gateway by opcode",
		}, []string{"op"}),
		rateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "rate_limit_waits_total",
			Help:      "Sends delayed by the outbound budget",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "dispatches_total",
			Help:      "Dispatch frames received by event type",
		}, []string{"event"}),
		interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "interactions",
			Name:      "handled_total",
			Help:      "Interactions handled by type and result",
		}, []string{"type", "result"}),
		overlayViewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "overlay",
			Name:      "viewers",
			Help:      "Connected overlay viewers",
		}),
		overlayUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "overlay",
			Name:      "updates_total",
			Help:      "Accepted overlay updates",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.gatewayStatus,
		m.gatewayReconnects,
		m.gatewayErrors,
		m.heartbeatLatency,
		m.framesSent,
		m.rateLimitWaits,
		m.dispatches,
		m.interactions,
		m.overlayViewers,
		m.overlayUpdates,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// SetGatewayStatus records the numeric connection status.
func (m *Metrics) SetGatewayStatus(status int) {
	if m == nil {
		return
	}
	m.gatewayStatus.Set(float64(status))
}

// GatewayReconnect counts a reconnection attempt.
func (m *Metrics) GatewayReconnect() {
	if m == nil {
		return
	}
	m.gatewayReconnects.Inc()
}

// GatewayError counts an error of the given kind.
func (m *Metrics) GatewayError(kind string) {
	if m == nil {
		return
	}
	m.gatewayErrors.WithLabelValues(kind).Inc()
}

// HeartbeatLatency observes a heartbeat round trip.
func (m *Metrics) HeartbeatLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.heartbeatLatency.Observe(d.Seconds())
}

// FrameSent counts an outbound frame.
func (m *Metrics) FrameSent(op string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(op).Inc()
}

// RateLimitWait counts a send delayed by the budget.
func (m *Metrics) RateLimitWait() {
	if m == nil {
		return
	}
	m.rateLimitWaits.Inc()
}

// Dispatch counts an inbound dispatch.
func (m *Metrics) Dispatch(event string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(event).Inc()
}

// Interaction counts a handled interaction.
func (m *Metrics) Interaction(kind, result string) {
	if m == nil {
		return
	}
	m.interactions.WithLabelValues(kind, result).Inc()
}

// SetOverlayViewers records the connected viewer count.
func (m *Metrics) SetOverlayViewers(n int) {
	if m == nil {
		return
	}
	m.overlayViewers.Set(float64(n))
}

// OverlayUpdate counts an accepted overlay update.
func (m *Metrics) OverlayUpdate() {
	if m == nil {
		return
	}
	m.overlayUpdates.Inc()
}

// HTTPRequest records a served request.
func (m *Metrics) HTTPRequest(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
