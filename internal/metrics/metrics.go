package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all the Prometheus metrics for cloakgate
type Metrics struct {
	// Counters
	Classifications *prometheus.CounterVec
	Actions         *prometheus.CounterVec
	PolicyLookups   *prometheus.CounterVec
	ReporterDropped prometheus.Counter
	EventsIngested  *prometheus.CounterVec
	SinkErrors      *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec

	// Gauges
	QueueDepth *prometheus.GaugeVec

	// Histograms
	ClassifyDuration  prometheus.Histogram
	BatchFlushLatency *prometheus.HistogramVec
	HTTPDuration      *prometheus.HistogramVec
}

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// means the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloakgate_classifications_total",
			Help: "Classifications by visitor type and reason kind",
		}, []string{"type", "reason"}),

		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloakgate_actions_total",
			Help: "Dispatched actions by kind",
		}, []string{"action"}),

		PolicyLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloakgate_policy_lookups_total",
			Help: "Policy lookups by outcome (hit, miss, not_found, error, stale)",
		}, []string{"outcome"}),

		ReporterDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "cloakgate_reporter_dropped_total",
			Help: "Decision events dropped because the reporter queue was full",
		}),

		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloakgate_events_ingested_total",
			Help: "Total events written by sink type",
		}, []string{"sink"}),

		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloakgate_sink_errors_total",
			Help: "Total errors writing to a sink",
		}, []string{"sink", "error_type"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cloakgate_http_requests_total",
			Help: "Total HTTP requests by endpoint and status",
		}, []string{"endpoint", "method", "status"}),

		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cloakgate_queue_depth",
			Help: "Current depth of an internal event queue",
		}, []string{"queue"}),

		ClassifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "cloakgate_classify_duration_seconds",
			Help:    "Time spent classifying and dispatching one request",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.005, 0.01},
		}),

		BatchFlushLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloakgate_batch_flush_latency_seconds",
			Help:    "Latency of flushing a batch to a sink",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),

		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloakgate_http_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: latencyBuckets,
		}, []string{"endpoint", "method"}),
	}
}

// NewNop returns metrics registered on a throwaway registry.
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func (m *Metrics) IncrementClassification(typ, reason string) {
	m.Classifications.WithLabelValues(typ, reason).Inc()
}

func (m *Metrics) IncrementAction(action string) {
	m.Actions.WithLabelValues(action).Inc()
}

func (m *Metrics) IncrementPolicyLookup(outcome string) {
	m.PolicyLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementReporterDropped() {
	m.ReporterDropped.Inc()
}

func (m *Metrics) IncrementEventsIngested(sink string) {
	m.EventsIngested.WithLabelValues(sink).Inc()
}

func (m *Metrics) IncrementSinkErrors(sink, errorType string) {
	m.SinkErrors.WithLabelValues(sink, errorType).Inc()
}

func (m *Metrics) IncrementHTTPRequests(endpoint, method, status string) {
	m.HTTPRequests.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) SetQueueDepth(queue string, depth float64) {
	m.QueueDepth.WithLabelValues(queue).Set(depth)
}

// ObserveClassify records the duration since start.
func (m *Metrics) ObserveClassify(start time.Time) {
	m.ClassifyDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveBatchFlushLatency(sink string, duration time.Duration) {
	m.BatchFlushLatency.WithLabelValues(sink).Observe(duration.Seconds())
}

func (m *Metrics) ObserveHTTPDuration(endpoint, method string, duration time.Duration) {
	m.HTTPDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}
