// Package sink defines the transcript persistence interface.
package sink

import (
	"context"
	"errors"

	"meeting-transcription-service/internal/models"
)

// ErrWriteFailed wraps persistence failures. The session keeps its in-memory
// transcript when this surfaces, so an external export path stays possible.
var ErrWriteFailed = errors.New("sink write failed")

// Ref identifies the session's container in the sink and carries the
// client-visible link to it.
type Ref struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}

// Sink is the external system of record for transcripts. CreateSession is
// called once, before the first write; Append calls for one session arrive
// strictly in sequence order and each call is atomic.
type Sink interface {
	CreateSession(ctx context.Context, meta models.SessionMeta) (Ref, error)
	Append(ctx context.Context, ref Ref, entry models.TranscriptEntry) error
}
