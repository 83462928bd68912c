// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_call_assist"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionsEnded    *prometheus.CounterVec
	SessionsActive   prometheus.Gauge
	SessionsDegraded prometheus.Counter

	// Chunk / scheduling metrics
	ChunksReceived   prometheus.Counter
	ChunksProcessed  prometheus.Counter
	ChunksDropped    *prometheus.CounterVec
	ChunksOutOfOrder prometheus.Counter
	SequenceGaps     *prometheus.CounterVec
	PassLatency      prometheus.Histogram

	// Classifier metrics
	ClassifierLatency *prometheus.HistogramVec
	ClassifierErrors  *prometheus.CounterVec

	// Rule engine metrics
	RulesFired       *prometheus.CounterVec
	StageTransitions *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Transport metrics
	RPCDuration *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance registered with the default registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
// Tests should pass a fresh prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of call sessions started",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of call sessions ended",
		}, []string{"reason"}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active call sessions",
		}),
		SessionsDegraded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_degraded_total",
			Help:      "Times a session entered degraded assistance after repeated transcription failures",
		}),

		ChunksReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_received_total",
			Help:      "Total audio chunks accepted for processing",
		}),
		ChunksProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_processed_total",
			Help:      "Total audio chunks that completed a pipeline pass",
		}),
		ChunksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Total audio chunks dropped before processing",
		}, []string{"reason"}),
		ChunksOutOfOrder: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_out_of_order_total",
			Help:      "Total chunks buffered because an earlier sequence was missing",
		}),
		SequenceGaps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_gaps_total",
			Help:      "Total sequence numbers skipped without processing",
		}, []string{"reason"}),
		PassLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_latency_seconds",
			Help:      "Latency of one full pipeline pass per chunk",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 1, 2},
		}),

		ClassifierLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classifier_latency_seconds",
			Help:      "External classifier call latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 1},
		}, []string{"classifier"}),
		ClassifierErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_errors_total",
			Help:      "Total classifier failures by classifier and error type",
		}, []string{"classifier", "error_type"}),

		RulesFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_fired_total",
			Help:      "Total rule firings by rule id and kind",
		}, []string{"rule_id", "kind"}),
		StageTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Conversation stage transitions",
		}, []string{"from", "to"}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_duration_seconds",
			Help:      "gRPC and HTTP request handling duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"transport", "method", "code"}),
	}
}

// RecordSessionStarted records a new call session.
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnded records a call session ending.
func (m *Metrics) RecordSessionEnded(reason string) {
	m.SessionsActive.Dec()
	m.SessionsEnded.WithLabelValues(reason).Inc()
}

// RecordDegraded records a session entering degraded assistance.
func (m *Metrics) RecordDegraded() {
	m.SessionsDegraded.Inc()
}

// RecordChunkReceived records an accepted chunk.
func (m *Metrics) RecordChunkReceived(outOfOrder bool) {
	m.ChunksReceived.Inc()
	if outOfOrder {
		m.ChunksOutOfOrder.Inc()
	}
}

// RecordChunkDropped records a chunk dropped before processing.
func (m *Metrics) RecordChunkDropped(reason string) {
	m.ChunksDropped.WithLabelValues(reason).Inc()
}

// RecordGap records skipped sequence numbers.
func (m *Metrics) RecordGap(reason string, count uint64) {
	m.SequenceGaps.WithLabelValues(reason).Add(float64(count))
}

// RecordPass records a completed pipeline pass.
func (m *Metrics) RecordPass(seconds float64) {
	m.ChunksProcessed.Inc()
	m.PassLatency.Observe(seconds)
}

// RecordClassifierCall records one classifier call and its outcome.
// errorType is empty on success.
func (m *Metrics) RecordClassifierCall(classifier, errorType string, seconds float64) {
	m.ClassifierLatency.WithLabelValues(classifier).Observe(seconds)
	if errorType != "" {
		m.ClassifierErrors.WithLabelValues(classifier, errorType).Inc()
	}
}

// RecordRuleFired records a rule firing.
func (m *Metrics) RecordRuleFired(ruleID, kind string) {
	m.RulesFired.WithLabelValues(ruleID, kind).Inc()
}

// RecordStageTransition records a stage change.
func (m *Metrics) RecordStageTransition(from, to string) {
	m.StageTransitions.WithLabelValues(from, to).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordRPC records one transport request.
func (m *Metrics) RecordRPC(transport, method, code string, seconds float64) {
	m.RPCDuration.WithLabelValues(transport, method, code).Observe(seconds)
}
