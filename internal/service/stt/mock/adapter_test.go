package mock

import (
	"context"
	"testing"

	"meeting-transcription-service/internal/service/stt"
)

func TestSendAudio_EmitsAtFrameThresholds(t *testing.T) {
	script := []ScriptedUtterance{
		{Text: "one", SpeakerTag: 1, AfterFrames: 1},
		{Text: "two", SpeakerTag: 2, AfterFrames: 3},
	}
	a := New(script)
	ctx := context.Background()

	if err := a.Start(ctx, stt.StreamConfig{}); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := a.SendAudio(ctx, []byte{0}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case r := <-a.Results():
		if r.Text != "one" || r.SpeakerTag != 1 {
			t.Fatalf("unexpected first result: %+v", r)
		}
	default:
		t.Fatal("expected a result after the first frame")
	}

	// Below threshold for the second utterance.
	if err := a.SendAudio(ctx, []byte{1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case r := <-a.Results():
		t.Fatalf("unexpected early result: %+v", r)
	default:
	}

	if err := a.SendAudio(ctx, []byte{2}); err != nil {
		t.Fatalf("send: %v", err)
	}
	r := <-a.Results()
	if r.Text != "two" || r.SpeakerTag != 2 {
		t.Fatalf("unexpected second result: %+v", r)
	}
}

func TestCloseSend_FlushesRemainingScriptThenCloses(t *testing.T) {
	a := New(nil) // DefaultScript
	ctx := context.Background()

	if err := a.Start(ctx, stt.StreamConfig{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.CloseSend(ctx); err != nil {
		t.Fatalf("close send: %v", err)
	}

	var got []stt.Result
	for r := range a.Results() {
		got = append(got, r)
	}
	if len(got) != len(DefaultScript) {
		t.Fatalf("expected %d flushed results, got %d", len(DefaultScript), len(got))
	}
	for i, r := range got {
		if r.Text != DefaultScript[i].Text {
			t.Errorf("result %d: got %q, want %q", i, r.Text, DefaultScript[i].Text)
		}
		if !r.IsFinal {
			t.Errorf("result %d: expected final", i)
		}
	}
	if err := a.Err(); err != nil {
		t.Fatalf("expected clean drain, got %v", err)
	}

	// Idempotent.
	if err := a.CloseSend(ctx); err != nil {
		t.Fatalf("second close send: %v", err)
	}
}

func TestClose_WithoutCloseSendClosesResults(t *testing.T) {
	a := New([]ScriptedUtterance{{Text: "dropped", SpeakerTag: 1, AfterFrames: 99}})
	ctx := context.Background()

	if err := a.Start(ctx, stt.StreamConfig{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-a.Results(); ok {
		t.Fatal("expected results closed after Close")
	}

	// Idempotent, including after CloseSend already ran.
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := a.CloseSend(ctx); err != nil {
		t.Fatalf("close send after close: %v", err)
	}
}
