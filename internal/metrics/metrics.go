// Package metrics exposes Prometheus instrumentation for matching, deduplication
// and event delivery.
package metrics

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
)

const namespace = "chamada"

type Metrics struct {
	registry *prometheus.Registry

	// Matching
	MatchLatency prometheus.Histogram
	MatchTier    *prometheus.CounterVec

	// Pipeline
	Outcomes      *prometheus.CounterVec
	StageErrors   *prometheus.CounterVec
	FramesDropped prometheus.Counter

	// Delivery
	QueueDepth        prometheus.Gauge
	EnqueuedTotal     prometheus.Counter
	DeliveredTotal    prometheus.Counter
	DeliveryLatency   prometheus.Histogram
	AttemptFailures   prometheus.Counter
	PermanentFailures prometheus.Counter

	// Retention
	Pruned prometheus.Counter
}

// New registers every collector on a dedicated registry, plus the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		MatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Duration of matching one probe against the enrolled identities",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),
		MatchTier: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_results_total",
			Help:      "Match results by tier",
		}, []string{"tier"}),

		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_outcomes_total",
			Help:      "Processed probes by outcome",
		}, []string{"outcome"}),
		StageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_errors_total",
			Help:      "Probes dropped because a pipeline stage failed",
		}, []string{"stage"}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because the worker pool buffer was full",
		}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_depth",
			Help:      "Entries awaiting delivery",
		}),
		EnqueuedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_enqueued_total",
			Help:      "Attendance records durably enqueued",
		}),
		DeliveredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_delivered_total",
			Help:      "Attendance events acknowledged by the broker",
		}),
		DeliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_delivery_latency_seconds",
			Help:      "Time from enqueue to broker acknowledgment",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 300, 1800},
		}),
		AttemptFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_attempt_failures_total",
			Help:      "Failed delivery attempts",
		}),
		PermanentFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_permanent_failures_total",
			Help:      "Entries whose delivery attempts were exhausted",
		}),

		Pruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retention_pruned_total",
			Help:      "Delivered outbox rows removed by retention",
		}),
	}
}

// Registry returns the registry backing this instance.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

// ObserveMatch records one match duration and its tier.
func (m *Metrics) ObserveMatch(d time.Duration, tier domain.Tier) {
	if m != nil {
		m.MatchLatency.Observe(d.Seconds())
		m.MatchTier.WithLabelValues(string(tier)).Inc()
	}
}

func (m *Metrics) ObserveOutcome(kind domain.OutcomeKind) {
	if m != nil {
		m.Outcomes.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) StageError(stage string) {
	if m != nil {
		m.StageErrors.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.FramesDropped.Inc()
	}
}

func (m *Metrics) PrunedRows(n int64) {
	if m != nil && n > 0 {
		m.Pruned.Add(float64(n))
	}
}

// The methods below satisfy outbox.Observer.

func (m *Metrics) Enqueued() {
	if m != nil {
		m.EnqueuedTotal.Inc()
	}
}

func (m *Metrics) Delivered(sinceCreated time.Duration) {
	if m != nil {
		m.DeliveredTotal.Inc()
		m.DeliveryLatency.Observe(sinceCreated.Seconds())
	}
}

func (m *Metrics) AttemptFailed() {
	if m != nil {
		m.AttemptFailures.Inc()
	}
}

func (m *Metrics) FailedPermanently() {
	if m != nil {
		m.PermanentFailures.Inc()
	}
}

func (m *Metrics) Depth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}
