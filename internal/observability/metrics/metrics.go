// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "meeting_transcriber"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal     prometheus.Counter
	SessionsActive    prometheus.Gauge
	SessionsCompleted prometheus.Counter
	SessionsFailed    *prometheus.CounterVec
	SessionDuration   prometheus.Histogram

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	IngestBackpressure  prometheus.Counter

	// Recognition metrics
	RecognitionResults prometheus.Counter
	STTReconnects      prometheus.Counter
	STTErrors          *prometheus.CounterVec

	// Diarization metrics
	MappingRequests    prometheus.Counter
	MappingResolutions prometheus.Counter
	PendingTags        prometheus.Gauge

	// Transcript metrics
	EntriesEmitted  prometheus.Counter
	SinkAppendTotal prometheus.Counter
	SinkErrors      prometheus.Counter
	SinkLatency     prometheus.Histogram

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
			Help:      "Total number of recording sessions created",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active sessions",
		}),
		SessionsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Total number of sessions completed successfully",
		}),
		SessionsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of failed sessions",
		}, []string{"reason"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of sessions in seconds",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}),

		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),
		IngestBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_backpressure_total",
			Help:      "Total number of enqueue attempts rejected with backpressure",
		}),

		RecognitionResults: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_results_total",
			Help:      "Total number of final recognition results received",
		}),
		STTReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_reconnects_total",
			Help:      "Total number of recognition stream reconnect attempts",
		}),
		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),

		MappingRequests: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speaker_mapping_requests_total",
			Help:      "Total number of speaker mapping requests sent to clients",
		}),
		MappingResolutions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speaker_mapping_resolutions_total",
			Help:      "Total number of speaker tags resolved to names",
		}),
		PendingTags: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speaker_tags_pending",
			Help:      "Number of speaker tags currently awaiting confirmation",
		}),

		EntriesEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_entries_total",
			Help:      "Total number of transcript entries emitted",
		}),
		SinkAppendTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_appends_total",
			Help:      "Total number of transcript rows appended to the sink",
		}),
		SinkErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Total number of sink write errors",
		}),
		SinkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_append_latency_seconds",
			Help:      "Sink append latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
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

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session reaching a terminal state.
func (m *Metrics) RecordSessionEnd(failed bool, reason string, durationSec float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSec)
	if failed {
		m.SessionsFailed.WithLabelValues(reason).Inc()
	} else {
		m.SessionsCompleted.Inc()
	}
}

// RecordAudioFrame records a received audio frame.
func (m *Metrics) RecordAudioFrame(bytes int) {
	m.AudioFramesReceived.Inc()
	m.AudioBytesReceived.Add(float64(bytes))
}

// RecordKafkaPublish records the outcome of a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySec float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySec)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordSinkAppend records a sink append attempt.
func (m *Metrics) RecordSinkAppend(err error, latencySec float64) {
	m.SinkAppendTotal.Inc()
	m.SinkLatency.Observe(latencySec)
	if err != nil {
		m.SinkErrors.Inc()
	}
}
