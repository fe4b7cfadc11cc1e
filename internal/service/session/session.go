// Package session implements the recording session lifecycle: one worker
// goroutine per session owns the pipeline from the audio queue through the
// recognition adapter and speaker mapper into the transcript sink.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"meeting-transcription-service/internal/events"
	"meeting-transcription-service/internal/models"
	"meeting-transcription-service/internal/observability/metrics"
	"meeting-transcription-service/internal/service/diarize"
	"meeting-transcription-service/internal/service/ingest"
	"meeting-transcription-service/internal/service/stt"
	"meeting-transcription-service/internal/sink"
)

// errWorkerDone signals internally that the worker already exited.
var errWorkerDone = errors.New("session worker exited")

type ctrlKind int

const (
	ctrlText ctrlKind = iota
	ctrlResolve
	ctrlEnd
)

// control is one client-originated command delivered to the session worker.
// Commands from the same connection are processed in arrival order because
// they travel over a single channel.
type control struct {
	kind  ctrlKind
	text  string
	tag   int
	name  string
	reply chan error
}

// Session is one live recording session. All mutable pipeline state (mapper,
// transcript) is owned by the worker goroutine; the mutex only guards the
// state field and the entry snapshot read by the listing endpoint.
type Session struct {
	meta    models.SessionMeta
	ref     sink.Ref
	adapter stt.Adapter
	queue   *ingest.Queue
	mapper  *diarize.Mapper
	snk     sink.Sink
	pub     *events.Publisher
	metrics *metrics.Metrics
	log     zerolog.Logger

	streamCfg    stt.StreamConfig
	drainTimeout time.Duration

	eventsCh chan Event
	ctrl     chan control
	done     chan struct{}
	detached chan struct{}

	detachOnce sync.Once

	mu      sync.Mutex
	state   State
	started bool
	entries []models.TranscriptEntry

	onTerminal func(id string)
}

// ID returns the session id.
func (s *Session) ID() string { return s.meta.SessionID }

// Ref returns the sink container reference, including the client-visible link.
func (s *Session) Ref() sink.Ref { return s.ref }

// Meta returns the immutable session metadata.
func (s *Session) Meta() models.SessionMeta { return s.meta }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events returns the ordered stream of client-visible events. The channel is
// closed when the session reaches a terminal state.
func (s *Session) Events() <-chan Event {
	return s.eventsCh
}

// Done is closed once the worker and audio pump have exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Entries returns a copy of the transcript recorded so far. The transcript is
// retained in memory even when the session fails, so it stays exportable.
func (s *Session) Entries() []models.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TranscriptEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// EntryCount reports how many transcript entries have been recorded.
func (s *Session) EntryCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.entries))
}

// Info returns a point-in-time snapshot for the listing endpoint.
func (s *Session) Info() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionInfo{
		SessionID:  s.meta.SessionID,
		Title:      s.meta.Title,
		Language:   s.meta.Language,
		State:      s.state.String(),
		EntryCount: uint64(len(s.entries)),
		StartedAt:  s.meta.StartedAt,
	}
}

// Detach marks the client connection as gone. Events are discarded from then
// on instead of blocking the worker against a reader that will never come.
func (s *Session) Detach() {
	s.detachOnce.Do(func() { close(s.detached) })
}

// acceptAudio admits one audio frame. The recognition stream opens lazily on
// the first frame; audio after CLOSING is rejected with ErrInvalidState.
func (s *Session) acceptAudio(ctx context.Context, frame []byte) error {
	justStarted := false
	s.mu.Lock()
	switch s.state {
	case StateCreated:
		if err := s.adapter.Start(ctx, s.streamCfg); err != nil {
			s.mu.Unlock()
			return err
		}
		s.started = true
		justStarted = true
		s.state = StateStreaming
		s.mu.Unlock()
		s.log.Info().
			Str("language", s.streamCfg.Language).
			Int("sampleRateHz", s.streamCfg.SampleRateHz).
			Msg("First audio frame received, recognition stream opened")
	case StateStreaming:
		s.mu.Unlock()
	default:
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: audio not accepted in %s", ErrInvalidState, st)
	}

	s.metrics.RecordAudioFrame(len(frame))

	err := s.queue.Enqueue(ctx, frame)
	switch {
	case errors.Is(err, ingest.ErrBackpressure):
		s.metrics.IngestBackpressure.Inc()
		return err
	case errors.Is(err, ingest.ErrQueueClosed):
		// The session closed between the state check and the enqueue. If
		// this frame raced the close into starting the stream, the pump has
		// already exited and won't signal end-of-audio for us.
		if justStarted {
			_ = s.adapter.CloseSend(ctx)
		}
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	default:
		return err
	}
}

// acceptTranscript admits client-side recognized text.
func (s *Session) acceptTranscript(text string) error {
	err := s.send(control{kind: ctrlText, text: text, reply: make(chan error, 1)})
	if errors.Is(err, errWorkerDone) {
		return fmt.Errorf("%w: session already finished", ErrInvalidState)
	}
	return err
}

// resolveMapping confirms a speaker tag to name assignment.
func (s *Session) resolveMapping(tag int, name string) error {
	err := s.send(control{kind: ctrlResolve, tag: tag, name: name, reply: make(chan error, 1)})
	if errors.Is(err, errWorkerDone) {
		return fmt.Errorf("%w: session already finished", ErrInvalidState)
	}
	return err
}

// end requests session completion. Idempotent: ending an already-ended or
// terminal session is a no-op.
func (s *Session) end() error {
	err := s.send(control{kind: ctrlEnd, reply: make(chan error, 1)})
	if errors.Is(err, errWorkerDone) {
		return nil
	}
	return err
}

func (s *Session) send(c control) error {
	select {
	case s.ctrl <- c:
	case <-s.done:
		return errWorkerDone
	}
	return <-c.reply
}

func (s *Session) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	s.log.Info().
		Str("from", prev.String()).
		Str("to", st.String()).
		Msg("Session state transition")
}

// emitEvent delivers one event to the connection layer in emission order.
// Once the client detaches, events are dropped.
func (s *Session) emitEvent(ev Event) {
	ev.SessionID = s.meta.SessionID
	select {
	case <-s.detached:
		return
	default:
	}
	select {
	case s.eventsCh <- ev:
	case <-s.detached:
	}
}

// pump moves frames from the ingest queue into the adapter, strictly in
// order. It exits when the queue closes, then signals end-of-audio.
func (s *Session) pump(ctx context.Context) error {
	for frame := range s.queue.Frames() {
		if err := s.adapter.SendAudio(ctx, frame); err != nil {
			s.log.Error().Err(err).Msg("Failed to forward audio frame")
		}
	}
	if s.isStarted() {
		if err := s.adapter.CloseSend(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Failed to close recognition send side")
		}
	}
	return nil
}

// run is the session worker. It is the only goroutine that touches the
// mapper and the sink, which makes the ordering guarantees structural.
func (s *Session) run(ctx context.Context) error {
	results := s.adapter.Results()
	resultsDone := false
	closing := false

	var drainTimer *time.Timer
	var drainC <-chan time.Time
	defer func() {
		if drainTimer != nil {
			drainTimer.Stop()
		}
	}()

	for {
		select {
		case res, ok := <-results:
			if !ok {
				results = nil
				resultsDone = true
				if err := s.adapter.Err(); err != nil {
					s.fail(ctx, "upstream", err)
					return nil
				}
				if closing && s.mapper.PendingCount() == 0 {
					s.complete(ctx, false)
					return nil
				}
				continue
			}
			s.metrics.RecognitionResults.Inc()
			if !s.handleTurn(ctx, s.mapper.Observe(res)) {
				return nil
			}

		case c := <-s.ctrl:
			switch c.kind {
			case ctrlText:
				if closing {
					c.reply <- fmt.Errorf("%w: transcription after end", ErrInvalidState)
					continue
				}
				s.emitEvent(Event{Type: EventTranscriptionReceived, Text: c.text})
				ok := s.handleTurn(ctx, s.mapper.ObserveText(c.text))
				c.reply <- nil
				if !ok {
					return nil
				}

			case ctrlResolve:
				pendingBefore := s.mapper.PendingCount()
				turn, err := s.mapper.Resolve(c.tag, c.name)
				if err != nil {
					c.reply <- err
					continue
				}
				s.metrics.MappingResolutions.Inc()
				// Re-resolving an already-mapped tag leaves nothing pending.
				if s.mapper.PendingCount() < pendingBefore {
					s.metrics.PendingTags.Dec()
				}
				ok := s.handleTurn(ctx, turn)
				c.reply <- nil
				if !ok {
					return nil
				}
				if closing && resultsDone && s.mapper.PendingCount() == 0 {
					s.complete(ctx, false)
					return nil
				}

			case ctrlEnd:
				if closing {
					c.reply <- nil
					continue
				}
				closing = true
				s.setState(StateClosing)
				s.queue.Close()
				c.reply <- nil
				if (!s.isStarted() || resultsDone) && s.mapper.PendingCount() == 0 {
					s.complete(ctx, false)
					return nil
				}
				drainTimer = time.NewTimer(s.drainTimeout)
				drainC = drainTimer.C
			}

		case <-drainC:
			s.log.Warn().
				Dur("drainTimeout", s.drainTimeout).
				Int("pendingTags", s.mapper.PendingCount()).
				Int("bufferedResults", s.mapper.PendingResults()).
				Msg("Drain timed out, completing with a partial transcript")
			s.complete(ctx, true)
			return nil

		case <-ctx.Done():
			s.fail(ctx, "shutdown", ctx.Err())
			return nil
		}
	}
}

// handleTurn applies one mapper turn: mapping request, confirmed mapping, and
// sequenced entries, each written to the sink before its event is emitted.
// Returns false when the session failed and the worker must stop.
func (s *Session) handleTurn(ctx context.Context, turn diarize.Turn) bool {
	if turn.Request != nil {
		s.metrics.MappingRequests.Inc()
		s.metrics.PendingTags.Inc()
		s.emitEvent(Event{
			Type:           EventSpeakerMappingRequired,
			SpeakerTag:     turn.Request.SpeakerTag,
			SampleText:     turn.Request.SampleText,
			AvailableNames: turn.Request.AvailableNames,
		})
	}
	if turn.Mapped != nil {
		s.emitEvent(Event{
			Type:        EventSpeakerMapped,
			SpeakerTag:  turn.Mapped.SpeakerTag,
			SpeakerName: turn.Mapped.SpeakerName,
		})
	}
	for _, entry := range turn.Entries {
		start := time.Now()
		err := s.snk.Append(ctx, s.ref, entry)
		s.metrics.RecordSinkAppend(err, time.Since(start).Seconds())
		if err != nil {
			s.log.Error().
				Err(err).
				Uint64("sequence", entry.Sequence).
				Msg("Sink append failed")
			s.fail(ctx, "sink", fmt.Errorf("%w: %v", sink.ErrWriteFailed, err))
			return false
		}
		s.metrics.EntriesEmitted.Inc()

		s.mu.Lock()
		s.entries = append(s.entries, entry)
		s.mu.Unlock()

		if err := s.pub.PublishEntry(ctx, entry); err != nil {
			s.log.Warn().Err(err).Msg("Failed to mirror transcript entry")
		}

		s.emitEvent(Event{
			Type:           EventTranscriptionRecorded,
			Text:           entry.Text,
			SpeakerName:    entry.SpeakerName,
			SpeakerChanged: entry.SpeakerChanged,
		})
	}
	return true
}

func (s *Session) complete(ctx context.Context, partial bool) {
	s.setState(StateCompleted)
	count := s.EntryCount()
	msg := "Recording saved"
	switch {
	case partial:
		msg = "Recording saved; trailing results may be missing"
	case count == 0:
		msg = "Recording ended; no transcript captured"
	}
	s.emitEvent(Event{
		Type:       EventCompleted,
		Message:    msg,
		Link:       s.ref.Link,
		EntryCount: count,
	})
	s.finish(ctx, false, "")
}

func (s *Session) fail(ctx context.Context, reason string, err error) {
	s.queue.Close()
	s.setState(StateFailed)
	s.log.Error().Err(err).Str("reason", reason).Msg("Session failed")
	s.emitEvent(Event{Type: EventError, Message: err.Error()})
	s.finish(ctx, true, reason)
}

func (s *Session) finish(ctx context.Context, failed bool, reason string) {
	duration := time.Since(s.meta.StartedAt).Seconds()
	s.metrics.RecordSessionEnd(failed, reason, duration)

	// Tags still unresolved at termination no longer count as pending. The
	// gauge is shared across sessions, so only this session's share comes off.
	if pending := s.mapper.PendingCount(); pending > 0 {
		s.metrics.PendingTags.Sub(float64(pending))
	}

	// The adapter outlives the worker when the session fails mid-stream;
	// closing it unblocks any trailing result delivery and releases the
	// backend connection.
	if err := s.adapter.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close recognition adapter")
	}

	if err := s.pub.PublishSession(ctx, events.SessionEvent{
		EventType:  events.TypeSessionEnded,
		SessionID:  s.meta.SessionID,
		Title:      s.meta.Title,
		Language:   s.meta.Language,
		State:      s.State().String(),
		EntryCount: s.EntryCount(),
		Link:       s.ref.Link,
		StartedAt:  s.meta.StartedAt.UnixMilli(),
		EndedAt:    time.Now().UnixMilli(),
	}); err != nil {
		s.log.Warn().Err(err).Msg("Failed to mirror session lifecycle event")
	}

	// Deregister before the events channel closes: readers treat the close
	// as the end of the session and must not find it in the registry after.
	if s.onTerminal != nil {
		s.onTerminal(s.meta.SessionID)
	}
	close(s.eventsCh)
	s.log.Info().
		Str("state", s.State().String()).
		Uint64("entryCount", s.EntryCount()).
		Float64("durationSec", duration).
		Msg("Session finished")
}
