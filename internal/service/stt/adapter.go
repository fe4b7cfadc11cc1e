// Package stt defines the interface for streaming speech-to-text adapters.
package stt

import (
	"context"
	"errors"

	"meeting-transcription-service/internal/models"
)

// ErrUpstreamUnavailable is reported through Err when the recognition backend
// stayed unreachable after the bounded reconnect attempts.
var ErrUpstreamUnavailable = errors.New("recognition backend unavailable")

// Result is one normalized recognition result.
type Result = models.RecognitionResult

// StreamConfig holds the per-session recognition parameters. They are fixed
// at stream open and not renegotiable mid-session.
type StreamConfig struct {
	Language     string
	SampleRateHz int
	Encoding     string
	Diarization  bool
	MinSpeakers  int
	MaxSpeakers  int
}

// Adapter owns exactly one recognition stream for the lifetime of a session.
//
// Results delivers normalized results in backend receipt order on a bounded
// channel. The channel is closed once the backend has been drained after
// CloseSend, or when the adapter gives up; Err distinguishes the two.
type Adapter interface {
	// Start opens the recognition stream. Callers open lazily, on the
	// first audio frame.
	Start(ctx context.Context, cfg StreamConfig) error

	// SendAudio forwards one audio frame to the backend in order.
	SendAudio(ctx context.Context, frame []byte) error

	// CloseSend marks end-of-audio. Remaining results keep arriving on
	// Results until the backend finishes.
	CloseSend(ctx context.Context) error

	// Results returns the normalized result stream.
	Results() <-chan Result

	// Err reports why Results closed, nil on a clean drain.
	Err() error

	// Close releases the adapter's backend resources and unblocks any
	// result delivery still in flight. Idempotent; callers invoke it once
	// the session is terminal, whether or not Results was fully drained.
	Close() error
}

// languageCodes maps client language shorthands to BCP-47 recognition codes.
var languageCodes = map[string]string{
	"ko": "ko-KR",
	"en": "en-US",
	"ja": "ja-JP",
	"zh": "zh-CN",
}

// NormalizeLanguage expands a shorthand language to a full recognition code.
// Full codes pass through unchanged.
func NormalizeLanguage(code string) string {
	if full, ok := languageCodes[code]; ok {
		return full
	}
	return code
}
