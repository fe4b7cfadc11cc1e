package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"meeting-transcription-service/internal/config"
	"meeting-transcription-service/internal/events"
	"meeting-transcription-service/internal/models"
	"meeting-transcription-service/internal/observability/logging"
	"meeting-transcription-service/internal/observability/metrics"
	"meeting-transcription-service/internal/service/diarize"
	"meeting-transcription-service/internal/service/ingest"
	"meeting-transcription-service/internal/service/stt"
	"meeting-transcription-service/internal/sink"
)

// AdapterFactory builds a recognition adapter for one session.
type AdapterFactory func(ctx context.Context, sessionID string) (stt.Adapter, error)

// Params are the client-supplied session parameters.
type Params struct {
	Title    string
	Language string
	Roster   []string
}

// Registry owns all live sessions. It is the only state shared between
// sessions; everything else is per-session and owned by that session's
// worker.
type Registry struct {
	sttCfg         config.STTConfig
	ingestCfg      config.IngestConfig
	defaultSpeaker string

	snk        sink.Sink
	pub        *events.Publisher
	metrics    *metrics.Metrics
	newAdapter AdapterFactory

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a session registry.
func NewRegistry(cfg *config.Configuration, snk sink.Sink, pub *events.Publisher, factory AdapterFactory) *Registry {
	return &Registry{
		sttCfg:         cfg.STT,
		ingestCfg:      cfg.Ingest,
		defaultSpeaker: cfg.Service.DefaultSpeaker,
		snk:            snk,
		pub:            pub,
		metrics:        metrics.DefaultMetrics,
		newAdapter:     factory,
		sessions:       make(map[string]*Session),
	}
}

// Create allocates a session: pre-creates the sink container so the very
// first transcript entry has somewhere to go, builds the adapter, and starts
// the worker and audio pump. A sink failure here fails the session before any
// audio is accepted.
func (r *Registry) Create(ctx context.Context, params Params) (*Session, error) {
	if params.Language == "" {
		params.Language = r.sttCfg.LanguageCode
	}
	if params.Language == "" {
		return nil, fmt.Errorf("%w: language is required", ErrInvalidRequest)
	}

	id := uuid.NewString()
	meta := models.SessionMeta{
		SessionID: id,
		Title:     params.Title,
		Language:  params.Language,
		Roster:    append([]string(nil), params.Roster...),
		StartedAt: time.Now(),
	}
	logger := logging.WithSession(id)

	ref, err := r.snk.CreateSession(ctx, meta)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create sink container")
		r.metrics.SessionsFailed.WithLabelValues("sink").Inc()
		return nil, fmt.Errorf("%w: %v", sink.ErrWriteFailed, err)
	}

	adapter, err := r.newAdapter(ctx, id)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build recognition adapter")
		r.metrics.SessionsFailed.WithLabelValues("upstream").Inc()
		return nil, err
	}

	s := &Session{
		meta:    meta,
		ref:     ref,
		adapter: adapter,
		queue:   ingest.New(r.ingestCfg.QueueCapacity, r.ingestCfg.EnqueueWait),
		mapper:  diarize.New(id, params.Roster, r.defaultSpeaker),
		snk:     r.snk,
		pub:     r.pub,
		metrics: r.metrics,
		log:     logger,

		streamCfg:    r.streamConfig(params),
		drainTimeout: r.ingestCfg.DrainTimeout,

		eventsCh: make(chan Event, r.ingestCfg.EventBufferSize),
		ctrl:     make(chan control),
		done:     make(chan struct{}),
		detached: make(chan struct{}),

		onTerminal: r.remove,
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	r.metrics.RecordSessionStart()
	logger.Info().
		Str("title", meta.Title).
		Str("language", meta.Language).
		Strs("roster", meta.Roster).
		Str("sinkRef", ref.ID).
		Msg("Session created")

	// The pipeline outlives the request that created it; only CloseAll or a
	// terminal transition stops it.
	runCtx := context.WithoutCancel(ctx)
	g := &errgroup.Group{}
	g.Go(func() error { return s.run(runCtx) })
	g.Go(func() error { return s.pump(runCtx) })
	go func() {
		_ = g.Wait()
		close(s.done)
	}()

	s.emitEvent(Event{
		Type:    EventStatus,
		Message: "Session created",
		Link:    ref.Link,
	})
	return s, nil
}

// streamConfig derives the recognition stream parameters for one session.
// The roster size, when given, bounds the diarization speaker count.
func (r *Registry) streamConfig(params Params) stt.StreamConfig {
	cfg := stt.StreamConfig{
		Language:     stt.NormalizeLanguage(params.Language),
		SampleRateHz: r.sttCfg.SampleRateHz,
		Encoding:     r.sttCfg.AudioEncoding,
		Diarization:  r.sttCfg.Diarization,
		MinSpeakers:  r.sttCfg.MinSpeakers,
		MaxSpeakers:  r.sttCfg.MaxSpeakers,
	}
	if n := len(params.Roster); n >= 2 {
		if n < cfg.MinSpeakers {
			cfg.MinSpeakers = n
		}
		if n > cfg.MaxSpeakers {
			cfg.MaxSpeakers = n
		}
	}
	return cfg
}

// Get returns a live session by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return s, nil
}

// AcceptAudio forwards one audio frame to the session's ingest queue.
func (r *Registry) AcceptAudio(ctx context.Context, id string, frame []byte) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.acceptAudio(ctx, frame)
}

// AcceptTranscript forwards client-side recognized text into the session.
func (r *Registry) AcceptTranscript(ctx context.Context, id, text string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.acceptTranscript(text)
}

// ResolveMapping confirms a speaker tag to name assignment.
func (r *Registry) ResolveMapping(ctx context.Context, id string, tag int, name string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.resolveMapping(tag, name)
}

// End transitions the session to CLOSING and triggers the drain. Idempotent;
// ending an unknown (already destroyed) session is a no-op.
func (r *Registry) End(ctx context.Context, id string) error {
	s, err := r.Get(id)
	if err != nil {
		return nil
	}
	return s.end()
}

// Abandon handles a lost client connection: events stop being delivered and
// the session ends on its own, draining whatever is buffered.
func (r *Registry) Abandon(id string) {
	s, err := r.Get(id)
	if err != nil {
		return
	}
	s.log.Warn().Msg("Client connection lost, ending session")
	s.Detach()
	_ = s.end()
}

// Snapshot lists live sessions, ordered by start time.
func (r *Registry) Snapshot() []models.SessionInfo {
	r.mu.RLock()
	infos := make([]models.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	r.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

// CloseAll ends every live session and waits for their workers to finish,
// bounded by ctx. Used during graceful shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.RLock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.RUnlock()

	for _, s := range live {
		_ = s.end()
	}
	for _, s := range live {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}
