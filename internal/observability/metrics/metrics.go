// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_form"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionRestarts prometheus.Counter
	SessionErrors   *prometheus.CounterVec

	// Utterance metrics
	UtterancesFinal   prometheus.Counter
	UtterancesInterim prometheus.Counter
	UtterancesDropped *prometheus.CounterVec

	// Understanding metrics
	Understandings     *prometheus.CounterVec
	UnderstandLatency  prometheus.Histogram
	RemoteAttempts     prometheus.Counter
	RemoteFailures     *prometheus.CounterVec
	Fallbacks          prometheus.Counter
	BackoffWindow      prometheus.Gauge
	RateLimitCooldowns prometheus.Counter

	// Form metrics
	FieldsApplied *prometheus.CounterVec
	Submissions   prometheus.Counter
	Clears        prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of speech sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently listening speech sessions",
		}),
		SessionRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_restarts_total",
			Help:      "Total number of automatic recognizer restarts",
		}),
		SessionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_errors_total",
			Help:      "Total number of recognition device errors",
		}, []string{"kind"}),

		UtterancesFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_final_total",
			Help:      "Total number of final utterances classified",
		}),
		UtterancesInterim: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_interim_total",
			Help:      "Total number of interim transcripts received",
		}),
		UtterancesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_dropped_total",
			Help:      "Total number of utterances dropped before application",
		}, []string{"reason"}),

		Understandings: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "understandings_total",
			Help:      "Total number of understandings produced, by intent",
		}, []string{"intent"}),
		UnderstandLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "understand_latency_seconds",
			Help:      "Time to classify one final utterance",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		RemoteAttempts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_attempts_total",
			Help:      "Total number of generative backend calls attempted",
		}),
		RemoteFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_failures_total",
			Help:      "Total number of failed backend calls, by reason",
		}, []string{"reason"}),
		Fallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of utterances resolved by the deterministic fallback",
		}),
		BackoffWindow: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backoff_window_seconds",
			Help:      "Current rate-limit backoff window",
		}),
		RateLimitCooldowns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_cooldowns_total",
			Help:      "Total number of cooldown windows entered",
		}),

		FieldsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_applied_total",
			Help:      "Total number of form field updates, by field",
		}, []string{"field"}),
		Submissions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of form submissions",
		}),
		Clears: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clears_total",
			Help:      "Total number of form clears",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionStart records a session entering the listening state.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionStop records a session leaving the listening state.
func (m *Metrics) RecordSessionStop() {
	m.SessionsActive.Dec()
}

// RecordSessionRestart records an automatic recognizer restart.
func (m *Metrics) RecordSessionRestart() {
	m.SessionRestarts.Inc()
}

// RecordSessionError records a recognition device error.
func (m *Metrics) RecordSessionError(kind string) {
	m.SessionErrors.WithLabelValues(kind).Inc()
}

// RecordFinalUtterance records a final utterance entering classification.
func (m *Metrics) RecordFinalUtterance() {
	m.UtterancesFinal.Inc()
}

// RecordInterimUtterance records an interim transcript.
func (m *Metrics) RecordInterimUtterance() {
	m.UtterancesInterim.Inc()
}

// RecordUtteranceDropped records an utterance dropped before or after
// classification (empty after normalization, stale session, ...).
func (m *Metrics) RecordUtteranceDropped(reason string) {
	m.UtterancesDropped.WithLabelValues(reason).Inc()
}

// RecordUnderstanding records one produced understanding.
func (m *Metrics) RecordUnderstanding(intent string) {
	m.Understandings.WithLabelValues(intent).Inc()
}

// RecordUnderstandLatency records classification latency.
func (m *Metrics) RecordUnderstandLatency(seconds float64) {
	m.UnderstandLatency.Observe(seconds)
}

// RecordRemoteAttempt records one backend call attempt.
func (m *Metrics) RecordRemoteAttempt() {
	m.RemoteAttempts.Inc()
}

// RecordRemoteFailure records a failed backend call.
func (m *Metrics) RecordRemoteFailure(reason string) {
	m.RemoteFailures.WithLabelValues(reason).Inc()
	if reason == "rate_limited" {
		m.RateLimitCooldowns.Inc()
	}
}

// RecordFallback records an utterance resolved deterministically.
func (m *Metrics) RecordFallback() {
	m.Fallbacks.Inc()
}

// RecordBackoff records the current backoff window.
func (m *Metrics) RecordBackoff(window time.Duration) {
	m.BackoffWindow.Set(window.Seconds())
}

// RecordFieldApplied records a form field mutation.
func (m *Metrics) RecordFieldApplied(field string) {
	m.FieldsApplied.WithLabelValues(field).Inc()
}

// RecordSubmission records a form submission.
func (m *Metrics) RecordSubmission() {
	m.Submissions.Inc()
}

// RecordClear records a form clear.
func (m *Metrics) RecordClear() {
	m.Clears.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
