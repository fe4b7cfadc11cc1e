// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration holds all service configuration, grouped by concern.
type Configuration struct {
	Service       ServiceConfig
	STT           STTConfig
	Ingest        IngestConfig
	Sink          SinkConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal      string
	HTTPPort       string
	MetricsPort    string
	DefaultSpeaker string
}

// STTConfig holds speech-to-text backend settings.
type STTConfig struct {
	Provider        string // "google" or "mock"
	LanguageCode    string
	SampleRateHz    int
	AudioEncoding   string // "WEBM_OPUS", "LINEAR16", ...
	Diarization     bool
	MinSpeakers     int
	MaxSpeakers     int
	MaxReconnects   int
	CredentialsFile string
}

// IngestConfig bounds the per-session audio queue and session shutdown.
type IngestConfig struct {
	QueueCapacity   int
	EnqueueWait     time.Duration
	DrainTimeout    time.Duration
	EventBufferSize int
}

// SinkConfig selects and configures the transcript sink.
type SinkConfig struct {
	Provider        string // "sheets" or "memory"
	SpreadsheetID   string
	CredentialsFile string
}

// KafkaConfig configures the optional event mirror.
type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	TopicEntries  string
	TopicSessions string
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json, console
}

// Load reads configuration from the environment, applying defaults.
func Load() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal:      envOrDefault("SERVICE_PRINCIPAL", "svc-meeting-transcriber"),
			HTTPPort:       envOrDefault("HTTP_PORT", "8000"),
			MetricsPort:    envOrDefault("METRICS_PORT", "9090"),
			DefaultSpeaker: envOrDefault("DEFAULT_SPEAKER", "Unknown"),
		},
		STT: STTConfig{
			Provider:        envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:    envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:    envOrDefaultInt("STT_SAMPLE_RATE_HZ", 48000),
			AudioEncoding:   envOrDefault("STT_AUDIO_ENCODING", "WEBM_OPUS"),
			Diarization:     envOrDefaultBool("STT_ENABLE_DIARIZATION", true),
			MinSpeakers:     envOrDefaultInt("STT_MIN_SPEAKERS", 2),
			MaxSpeakers:     envOrDefaultInt("STT_MAX_SPEAKERS", 6),
			MaxReconnects:   envOrDefaultInt("STT_MAX_RECONNECTS", 3),
			CredentialsFile: envOrDefault("GOOGLE_APPLICATION_CREDENTIALS", ""),
		},
		Ingest: IngestConfig{
			QueueCapacity:   envOrDefaultInt("INGEST_QUEUE_CAPACITY", 256),
			EnqueueWait:     envOrDefaultDuration("INGEST_ENQUEUE_WAIT", 2*time.Second),
			DrainTimeout:    envOrDefaultDuration("SESSION_DRAIN_TIMEOUT", 10*time.Second),
			EventBufferSize: envOrDefaultInt("SESSION_EVENT_BUFFER", 128),
		},
		Sink: SinkConfig{
			Provider:        envOrDefault("SINK_PROVIDER", "memory"),
			SpreadsheetID:   envOrDefault("SINK_SPREADSHEET_ID", ""),
			CredentialsFile: envOrDefault("SINK_CREDENTIALS_FILE", ""),
		},
		Kafka: KafkaConfig{
			Enabled:       envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:       envOrDefaultList("KAFKA_BROKERS", nil),
			TopicEntries:  envOrDefault("KAFKA_TOPIC_ENTRIES", "meeting.transcript.entries"),
			TopicSessions: envOrDefault("KAFKA_TOPIC_SESSIONS", "meeting.transcript.sessions"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
