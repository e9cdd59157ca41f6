// ABOUTME: Prometheus collectors for gateway traffic on a private registry.
// ABOUTME: All recording methods are safe on a nil *Metrics.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "actor_gateway"

// Forward outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeFailed      = "failed"
	OutcomeNotFound    = "not_found"
	OutcomeTimeout     = "timeout"
	OutcomeUnavailable = "unavailable"
)

// Event drop reasons.
const (
	DropNoSubscribers = "no_subscribers"
	DropDuplicate     = "duplicate"
	DropSendFailed    = "send_failed"
	DropInvalid       = "invalid"
)

// Metrics holds the gateway's collectors.
type Metrics struct {
	registry *prometheus.Registry

	frames          *prometheus.CounterVec
	forwarded       *prometheus.CounterVec
	forwardLatency  *prometheus.HistogramVec
	eventsDelivered prometheus.Counter
	eventsDropped   *prometheus.CounterVec
	announceErrors  prometheus.Counter
}

// New creates the collectors and registers them, plus Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_received_total",
				Help:      "Inbound frames by kind.",
			},
			[]string{"kind"},
		),
		forwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_forwarded_total",
				Help:      "Targeted requests by route and outcome.",
			},
			[]string{"route", "outcome"},
		),
		forwardLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_forward_seconds",
				Help:      "Time from receiving a targeted request to relaying its response.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		eventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Event frames sent to subscriber connections.",
		}),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Events or event deliveries dropped, by reason.",
			},
			[]string{"reason"},
		),
		announceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announce_errors_total",
			Help:      "Failed liveness announcements to the coordinator.",
		}),
	}

	m.registry.MustRegister(
		m.frames,
		m.forwarded,
		m.forwardLatency,
		m.eventsDelivered,
		m.eventsDropped,
		m.announceErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Gauges samples live state on every scrape.
type Gauges struct {
	Connections func() int
	Placements  func() int
	PendingCall func() int
}

// RegisterGauges adds gauge functions sampling the gateway's live state.
func (m *Metrics) RegisterGauges(g Gauges) {
	if m == nil {
		return
	}
	add := func(name, help string, fn func() int) {
		if fn == nil {
			return
		}
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
			func() float64 { return float64(fn()) },
		))
	}
	add("connections", "Live worker connections.", g.Connections)
	add("placements", "Agents placed on local workers.", g.Placements)
	add("pending_calls", "Forwarded calls awaiting a worker response.", g.PendingCall)
}

// FrameReceived counts an inbound frame.
func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(kind).Inc()
}

// Forwarded records the outcome and latency of a targeted request.
func (m *Metrics) Forwarded(route, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.forwarded.WithLabelValues(route, outcome).Inc()
	m.forwardLatency.WithLabelValues(route).Observe(elapsed.Seconds())
}

// EventsDelivered counts event frames sent to subscribers.
func (m *Metrics) EventsDelivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.eventsDelivered.Add(float64(n))
}

// EventDropped counts a dropped event or delivery.
func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

// AnnounceFailed counts a failed liveness announcement.
func (m *Metrics) AnnounceFailed() {
	if m == nil {
		return
	}
	m.announceErrors.Inc()
}
