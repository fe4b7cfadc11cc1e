// Package events mirrors transcript entries and session lifecycle changes to
// Kafka so downstream consumers see the meeting as it happens.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"meeting-transcription-service/internal/models"
	"meeting-transcription-service/internal/observability/metrics"
)

// Event type discriminators, carried in both the payload and the message
// headers.
const (
	TypeEntry        = "meeting.transcript.entry"
	TypeSessionEnded = "meeting.session.ended"
)

// EntryEvent is the wire form of one recorded transcript entry.
type EntryEvent struct {
	EventType      string `json:"eventType"`
	SessionID      string `json:"sessionId"`
	Sequence       uint64 `json:"sequence"`
	SpeakerName    string `json:"speakerName"`
	SpeakerChanged bool   `json:"speakerChanged"`
	Text           string `json:"text"`
	Timestamp      int64  `json:"timestamp"`
}

// SessionEvent is the wire form of a session lifecycle change.
type SessionEvent struct {
	EventType  string `json:"eventType"`
	SessionID  string `json:"sessionId"`
	Title      string `json:"title"`
	Language   string `json:"language"`
	State      string `json:"state"`
	EntryCount uint64 `json:"entryCount"`
	Link       string `json:"link"`
	StartedAt  int64  `json:"startedAt"`
	EndedAt    int64  `json:"endedAt"`
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers       []string
	TopicEntries  string
	TopicSessions string
	Principal     string
	Enabled       bool
}

// topicWriter binds one topic to its writer and metric label. A nil writer
// means log-only mode for that topic.
type topicWriter struct {
	topic  string
	label  string
	writer *kafka.Writer
}

// Publisher mirrors engine events onto two Kafka topics, one for transcript
// entries and one for session lifecycle. With no brokers configured it runs
// in log-only mode; the engine never depends on Kafka availability.
type Publisher struct {
	entries   topicWriter
	sessions  topicWriter
	principal string
	metrics   *metrics.Metrics
}

// New creates the Kafka mirror publisher.
func New(cfg *Config) *Publisher {
	p := &Publisher{metrics: metrics.DefaultMetrics}
	if cfg == nil {
		log.Info().Msg("Kafka mirror disabled, events logged only")
		return p
	}

	p.principal = cfg.Principal
	p.entries = topicWriter{topic: cfg.TopicEntries, label: "entry"}
	p.sessions = topicWriter{topic: cfg.TopicSessions, label: "session"}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka mirror disabled, events logged only")
		return p
	}

	// Longer dial timeout to ride out slow DNS resolution in Kubernetes.
	transport := &kafka.Transport{
		Dial: (&kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}).DialFunc,
	}
	p.entries.writer = newWriter(cfg.Brokers, cfg.TopicEntries, transport)
	p.sessions.writer = newWriter(cfg.Brokers, cfg.TopicSessions, transport)

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicEntries", cfg.TopicEntries).
		Str("topicSessions", cfg.TopicSessions).
		Str("principal", cfg.Principal).
		Msg("Kafka mirror initialized")
	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishEntry mirrors one recorded transcript entry, keyed by session id so
// a session's entries stay in partition order.
func (p *Publisher) PublishEntry(ctx context.Context, entry models.TranscriptEntry) error {
	return p.publish(ctx, p.entries, entry.SessionID, TypeEntry, EntryEvent{
		EventType:      TypeEntry,
		SessionID:      entry.SessionID,
		Sequence:       entry.Sequence,
		SpeakerName:    entry.SpeakerName,
		SpeakerChanged: entry.SpeakerChanged,
		Text:           entry.Text,
		Timestamp:      entry.Timestamp,
	})
}

// PublishSession mirrors a session lifecycle event, keyed by session id.
func (p *Publisher) PublishSession(ctx context.Context, ev SessionEvent) error {
	return p.publish(ctx, p.sessions, ev.SessionID, ev.EventType, ev)
}

func (p *Publisher) publish(ctx context.Context, tw topicWriter, key, eventType string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", tw.topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", tw.topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if tw.writer == nil {
		p.metrics.RecordKafkaPublish(tw.topic, tw.label, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}
	if err := tw.writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", tw.topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(tw.topic, tw.label, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(tw.topic, tw.label, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	for _, tw := range []topicWriter{p.entries, p.sessions} {
		if tw.writer == nil {
			continue
		}
		if e := tw.writer.Close(); e != nil {
			log.Error().Err(e).Str("topic", tw.topic).Msg("Error closing Kafka writer")
			err = e
		}
	}
	return err
}
