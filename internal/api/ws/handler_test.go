package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"meeting-transcription-service/internal/config"
	"meeting-transcription-service/internal/events"
	"meeting-transcription-service/internal/service/session"
	"meeting-transcription-service/internal/service/stt"
	"meeting-transcription-service/internal/service/stt/mock"
	"meeting-transcription-service/internal/sink/memory"
)

var errConnClosed = errors.New("connection closed")

type frame struct {
	typ  websocket.MessageType
	data []byte
}

// fakeConn scripts the client side of a connection. Inbound frames are fed
// through in; outbound frames are collected on out.
type fakeConn struct {
	in  chan frame
	out chan session.Event

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan frame, 64),
		out:    make(chan session.Event, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case f := <-c.in:
		return f.typ, f.data, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	var ev session.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	select {
	case c.out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sendJSON(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal client message: %v", err)
	}
	c.in <- frame{typ: websocket.MessageText, data: data}
}

func (c *fakeConn) sendBinary(data []byte) {
	c.in <- frame{typ: websocket.MessageBinary, data: data}
}

func (c *fakeConn) nextEvent(t *testing.T) session.Event {
	t.Helper()
	select {
	case ev := <-c.out:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound event")
		return session.Event{}
	}
}

func (c *fakeConn) expectEvent(t *testing.T, typ session.EventType) session.Event {
	t.Helper()
	ev := c.nextEvent(t)
	if ev.Type != typ {
		t.Fatalf("expected event %q, got %q (%+v)", typ, ev.Type, ev)
	}
	return ev
}

func newTestHandler(script []mock.ScriptedUtterance) *Handler {
	cfg := &config.Configuration{
		Service: config.ServiceConfig{DefaultSpeaker: "Unknown"},
		STT: config.STTConfig{
			SampleRateHz:  16000,
			AudioEncoding: "LINEAR16",
			Diarization:   true,
			MinSpeakers:   2,
			MaxSpeakers:   6,
		},
		Ingest: config.IngestConfig{
			QueueCapacity:   16,
			EnqueueWait:     50 * time.Millisecond,
			DrainTimeout:    2 * time.Second,
			EventBufferSize: 64,
		},
	}
	registry := session.NewRegistry(cfg, memory.New(), events.New(nil), func(ctx context.Context, id string) (stt.Adapter, error) {
		return mock.New(script), nil
	})
	return NewHandler(registry)
}

// runServe drives the protocol loop in the background and reports when it
// returns.
func runServe(h *Handler, c *fakeConn) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.serve(context.Background(), c)
	}()
	return done
}

func audioMessage(frame []byte) map[string]any {
	return map[string]any{
		"type":  "audio",
		"audio": base64.StdEncoding.EncodeToString(frame),
	}
}

func TestServe_FullSessionAutoLabels(t *testing.T) {
	script := []mock.ScriptedUtterance{
		{Text: "hello", SpeakerTag: 1, Confidence: 0.9, AfterFrames: 1},
		{Text: "hi there", SpeakerTag: 2, Confidence: 0.9, AfterFrames: 2},
	}
	h := newTestHandler(script)
	c := newFakeConn()
	done := runServe(h, c)

	// Empty roster: tags auto-resolve to generated labels.
	c.sendJSON(t, map[string]any{"type": "start", "language": "en", "title": "sync"})
	c.expectEvent(t, session.EventStatus)

	c.sendJSON(t, audioMessage([]byte{1}))
	rec := c.expectEvent(t, session.EventTranscriptionRecorded)
	if rec.SpeakerName != "Speaker 1" || rec.Text != "hello" {
		t.Errorf("unexpected first entry: %+v", rec)
	}

	c.sendBinary([]byte{2})
	rec = c.expectEvent(t, session.EventTranscriptionRecorded)
	if rec.SpeakerName != "Speaker 2" || rec.Text != "hi there" {
		t.Errorf("unexpected second entry: %+v", rec)
	}

	c.sendJSON(t, map[string]any{"type": "end"})
	completed := c.expectEvent(t, session.EventCompleted)
	if completed.EntryCount != 2 {
		t.Errorf("expected entryCount 2, got %d", completed.EntryCount)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after session completed")
	}
}

func TestServe_MappingRoundTrip(t *testing.T) {
	script := []mock.ScriptedUtterance{
		{Text: "who am I", SpeakerTag: 1, Confidence: 0.9, AfterFrames: 1},
	}
	h := newTestHandler(script)
	c := newFakeConn()
	done := runServe(h, c)

	c.sendJSON(t, map[string]any{
		"type":     "start",
		"language": "ko",
		"roster":   []string{"Alice", "Bob"},
	})
	c.expectEvent(t, session.EventStatus)

	c.sendJSON(t, audioMessage([]byte{1}))
	req := c.expectEvent(t, session.EventSpeakerMappingRequired)
	if req.SpeakerTag != 1 || len(req.AvailableNames) != 2 {
		t.Fatalf("unexpected mapping request: %+v", req)
	}

	c.sendJSON(t, map[string]any{
		"type":        "speaker_mapping",
		"speakerTag":  1,
		"speakerName": "Alice",
	})
	mapped := c.expectEvent(t, session.EventSpeakerMapped)
	if mapped.SpeakerName != "Alice" {
		t.Errorf("unexpected mapped event: %+v", mapped)
	}
	rec := c.expectEvent(t, session.EventTranscriptionRecorded)
	if rec.SpeakerName != "Alice" || rec.Text != "who am I" {
		t.Errorf("unexpected recorded entry: %+v", rec)
	}

	c.sendJSON(t, map[string]any{"type": "end"})
	c.expectEvent(t, session.EventCompleted)
	<-done
}

func TestServe_RosterAsCommaString(t *testing.T) {
	script := []mock.ScriptedUtterance{
		{Text: "morning", SpeakerTag: 1, Confidence: 0.9, AfterFrames: 1},
	}
	h := newTestHandler(script)
	c := newFakeConn()
	done := runServe(h, c)

	c.sendJSON(t, map[string]any{
		"type":     "start",
		"language": "en",
		"roster":   "Alice, Bob , Carol",
	})
	c.expectEvent(t, session.EventStatus)

	c.sendJSON(t, audioMessage([]byte{1}))
	req := c.expectEvent(t, session.EventSpeakerMappingRequired)
	want := []string{"Alice", "Bob", "Carol"}
	if len(req.AvailableNames) != len(want) {
		t.Fatalf("expected %v, got %v", want, req.AvailableNames)
	}
	for i, n := range want {
		if req.AvailableNames[i] != n {
			t.Errorf("expected %q at %d, got %q", n, i, req.AvailableNames[i])
		}
	}

	c.Close(websocket.StatusNormalClosure, "")
	<-done
}

func TestServe_ProtocolErrors(t *testing.T) {
	h := newTestHandler(nil)
	c := newFakeConn()
	done := runServe(h, c)

	// Data before start.
	c.sendJSON(t, audioMessage([]byte{1}))
	c.expectEvent(t, session.EventError)

	// Malformed JSON.
	c.in <- frame{typ: websocket.MessageText, data: []byte("{not json")}
	c.expectEvent(t, session.EventError)

	// Unknown type.
	c.sendJSON(t, map[string]any{"type": "bogus"})
	c.expectEvent(t, session.EventError)

	// Start without language.
	c.sendJSON(t, map[string]any{"type": "start"})
	c.expectEvent(t, session.EventError)

	// Valid start, then a duplicate.
	c.sendJSON(t, map[string]any{"type": "start", "language": "en"})
	c.expectEvent(t, session.EventStatus)
	c.sendJSON(t, map[string]any{"type": "start", "language": "en"})
	c.expectEvent(t, session.EventError)

	// Bad base64 audio.
	c.sendJSON(t, map[string]any{"type": "audio", "audio": "???"})
	c.expectEvent(t, session.EventError)

	c.sendJSON(t, map[string]any{"type": "end"})
	c.expectEvent(t, session.EventCompleted)
	<-done
}

func TestServe_AudioAfterEndReportedOnBothFrameKinds(t *testing.T) {
	script := []mock.ScriptedUtterance{
		{Text: "who is this", SpeakerTag: 1, Confidence: 0.9, AfterFrames: 1},
	}
	h := newTestHandler(script)
	c := newFakeConn()
	done := runServe(h, c)

	c.sendJSON(t, map[string]any{
		"type":     "start",
		"language": "en",
		"roster":   []string{"Alice"},
	})
	c.expectEvent(t, session.EventStatus)

	c.sendJSON(t, audioMessage([]byte{1}))
	c.expectEvent(t, session.EventSpeakerMappingRequired)

	// The unresolved tag keeps the session in CLOSING after end, so late
	// audio hits a live session in a state that no longer accepts it.
	c.sendJSON(t, map[string]any{"type": "end"})

	c.sendJSON(t, audioMessage([]byte{2}))
	errEv := c.expectEvent(t, session.EventError)
	if !strings.Contains(errEv.Message, "invalid session state") {
		t.Errorf("expected state error for JSON audio after end, got %q", errEv.Message)
	}

	c.sendBinary([]byte{3})
	errEv = c.expectEvent(t, session.EventError)
	if !strings.Contains(errEv.Message, "invalid session state") {
		t.Errorf("expected state error for binary audio after end, got %q", errEv.Message)
	}

	c.sendJSON(t, map[string]any{
		"type":        "speaker_mapping",
		"speakerTag":  1,
		"speakerName": "Alice",
	})
	c.expectEvent(t, session.EventSpeakerMapped)
	c.expectEvent(t, session.EventTranscriptionRecorded)
	c.expectEvent(t, session.EventCompleted)
	<-done
}

func TestServe_ConnectionLostEndsSession(t *testing.T) {
	h := newTestHandler(nil)
	c := newFakeConn()
	done := runServe(h, c)

	c.sendJSON(t, map[string]any{"type": "start", "language": "en"})
	c.expectEvent(t, session.EventStatus)
	c.sendJSON(t, audioMessage([]byte{1}))

	c.Close(websocket.StatusNormalClosure, "")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after connection loss")
	}
	if got := len(h.registry.Snapshot()); got != 0 {
		t.Errorf("expected no live sessions after abandon, got %d", got)
	}
}

func TestRosterNames(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{"list", `["Alice","Bob"]`, []string{"Alice", "Bob"}, false},
		{"comma string", `"Alice,Bob"`, []string{"Alice", "Bob"}, false},
		{"padded string", `" Alice ,  Bob ,"`, []string{"Alice", "Bob"}, false},
		{"empty list", `[]`, nil, false},
		{"empty string", `""`, nil, false},
		{"absent", ``, nil, false},
		{"wrong type", `42`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := clientMessage{Roster: json.RawMessage(tt.raw)}
			got, err := msg.rosterNames()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("expected %q at %d, got %q", tt.want[i], i, got[i])
				}
			}
		})
	}
}
