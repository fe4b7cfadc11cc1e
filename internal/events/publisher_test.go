package events

import (
	"context"
	"encoding/json"
	"testing"

	"meeting-transcription-service/internal/models"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
		{"nil config", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.entries.writer != nil {
				t.Error("expected nil entries writer when disabled")
			}
			if p.sessions.writer != nil {
				t.Error("expected nil sessions writer when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:       false,
		Brokers:       []string{"localhost:9092"},
		TopicEntries:  "test.entries",
		TopicSessions: "test.sessions",
		Principal:     "test-principal",
	}

	p := New(cfg)

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.entries.topic != "test.entries" {
		t.Errorf("expected topic entries 'test.entries', got %s", p.entries.topic)
	}
	if p.sessions.topic != "test.sessions" {
		t.Errorf("expected topic sessions 'test.sessions', got %s", p.sessions.topic)
	}
}

func TestPublisher_PublishEntry_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	entry := models.TranscriptEntry{
		SessionID:   "session-1",
		Sequence:    1,
		SpeakerName: "Alice",
		Text:        "test entry",
	}
	if err := p.PublishEntry(context.Background(), entry); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishSession_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false})

	ev := SessionEvent{
		EventType: TypeSessionEnded,
		SessionID: "session-1",
		State:     "COMPLETED",
	}
	if err := p.PublishSession(context.Background(), ev); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestEntryEvent_WireShape(t *testing.T) {
	entry := models.TranscriptEntry{
		SessionID:      "session-123",
		Sequence:       7,
		SpeakerName:    "Bob",
		SpeakerChanged: true,
		Text:           "hello world",
		Timestamp:      1724457600000,
	}
	ev := EntryEvent{
		EventType:      TypeEntry,
		SessionID:      entry.SessionID,
		Sequence:       entry.Sequence,
		SpeakerName:    entry.SpeakerName,
		SpeakerChanged: entry.SpeakerChanged,
		Text:           entry.Text,
		Timestamp:      entry.Timestamp,
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["eventType"] != TypeEntry {
		t.Errorf("expected eventType %q, got %v", TypeEntry, decoded["eventType"])
	}
	if decoded["sessionId"] != "session-123" || decoded["text"] != "hello world" {
		t.Errorf("unexpected payload: %v", decoded)
	}
	if decoded["speakerChanged"] != true {
		t.Errorf("expected speakerChanged true, got %v", decoded["speakerChanged"])
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})
	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}

func TestPublisher_Close_NilConfig(t *testing.T) {
	p := New(nil)
	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}
