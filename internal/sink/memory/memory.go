// Package memory provides an in-memory transcript sink, used in tests and as
// the log-only mode when no external sink is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"meeting-transcription-service/internal/models"
	"meeting-transcription-service/internal/sink"
)

// Sink stores transcript rows in memory, keyed by container id.
type Sink struct {
	mu      sync.Mutex
	entries map[string][]models.TranscriptEntry

	// FailAppends forces Append errors, for failure-path tests.
	FailAppends bool
	// FailCreate forces CreateSession errors.
	FailCreate bool
}

// New creates an empty in-memory sink.
func New() *Sink {
	return &Sink{entries: make(map[string][]models.TranscriptEntry)}
}

// CreateSession allocates a container for the session.
func (s *Sink) CreateSession(ctx context.Context, meta models.SessionMeta) (sink.Ref, error) {
	if s.FailCreate {
		return sink.Ref{}, fmt.Errorf("%w: create refused", sink.ErrWriteFailed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[meta.SessionID] = nil
	log.Debug().Str("sessionId", meta.SessionID).Str("title", meta.Title).Msg("Memory sink container created")
	return sink.Ref{ID: meta.SessionID, Link: "memory://" + meta.SessionID}, nil
}

// Append stores one transcript row.
func (s *Sink) Append(ctx context.Context, ref sink.Ref, entry models.TranscriptEntry) error {
	if s.FailAppends {
		return fmt.Errorf("%w: append refused", sink.ErrWriteFailed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[ref.ID] = append(s.entries[ref.ID], entry)
	return nil
}

// Entries returns a copy of the rows stored for a container.
func (s *Sink) Entries(refID string) []models.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TranscriptEntry(nil), s.entries[refID]...)
}
