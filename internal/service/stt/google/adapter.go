// Package google provides a Google Cloud Speech-to-Text streaming adapter
// with speaker diarization.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"google.golang.org/api/option"
	speechpb "google.golang.org/genproto/googleapis/cloud/speech/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"meeting-transcription-service/internal/observability/logging"
	"meeting-transcription-service/internal/observability/metrics"
	"meeting-transcription-service/internal/service/stt"
)

const providerName = "google"

// errAdapterClosed stops the stream loop when Close raced an active stream.
var errAdapterClosed = errors.New("adapter closed")

// recognizeStream is the slice of the Cloud Speech streaming client the
// adapter depends on. Narrowed for testability.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithCredentialsFile points the Speech client at a service account file.
func WithCredentialsFile(path string) Option {
	return func(a *Adapter) {
		if path != "" {
			a.clientOpts = append(a.clientOpts, option.WithCredentialsFile(path))
		}
	}
}

// WithMaxReconnects bounds the reconnect-and-resume attempts on transient
// stream failures.
func WithMaxReconnects(n int) Option {
	return func(a *Adapter) {
		a.maxReconnects = n
	}
}

// Adapter implements stt.Adapter backed by Google Cloud Speech-to-Text
// streaming recognition. One adapter serves one session.
type Adapter struct {
	client        *speech.Client
	clientOpts    []option.ClientOption
	maxReconnects int
	sessionID     string

	cfg     stt.StreamConfig
	audio   chan []byte
	results chan stt.Result
	done    chan struct{}

	closed    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	started    bool
	sendClosed bool
	err        error

	// openStream is swappable in tests.
	openStream func(ctx context.Context) (recognizeStream, error)

	m *metrics.Metrics
}

// New creates an adapter for one session. The Speech client connects here;
// the recognition stream itself opens lazily in Start.
func New(ctx context.Context, sessionID string, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		maxReconnects: 3,
		sessionID:     sessionID,
		audio:         make(chan []byte, 256),
		results:       make(chan stt.Result, 64),
		done:          make(chan struct{}),
		closed:        make(chan struct{}),
		m:             metrics.DefaultMetrics,
	}
	for _, o := range opts {
		o(a)
	}

	c, err := speech.NewClient(ctx, a.clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	a.client = c
	a.openStream = a.openCloudStream
	return a, nil
}

// Start opens the recognition stream and begins the send/receive loops.
// Called once, on the session's first audio frame.
func (a *Adapter) Start(ctx context.Context, cfg stt.StreamConfig) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("google: stream already started")
	}
	a.started = true
	a.cfg = cfg
	a.mu.Unlock()

	go a.run(ctx)
	return nil
}

// SendAudio hands one frame to the adapter's internal buffer. Frames stay
// buffered across reconnects until delivered to the backend.
func (a *Adapter) SendAudio(ctx context.Context, frame []byte) error {
	select {
	case a.audio <- frame:
		return nil
	case <-a.done:
		return a.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseSend marks end-of-audio. Idempotent.
func (a *Adapter) CloseSend(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendClosed {
		return nil
	}
	a.sendClosed = true
	close(a.audio)
	return nil
}

// Results returns the normalized result stream.
func (a *Adapter) Results() <-chan stt.Result {
	return a.results
}

// Err reports why Results closed.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Close tears the adapter down once its session is terminal. It unblocks
// any result delivery still in flight, stops the stream goroutine, and
// releases the underlying Speech client. Idempotent.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() { close(a.closed) })
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}

func (a *Adapter) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err == nil {
		a.err = err
	}
}

// run owns the stream lifecycle: open, pump, reconnect on transient failure.
// pending carries frames consumed from the buffer but not delivered to the
// backend, so a reconnect resumes without loss or duplication.
func (a *Adapter) run(ctx context.Context) {
	logger := logging.WithStream(a.sessionID, providerName)
	defer close(a.results)
	defer close(a.done)

	var pending [][]byte
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			a.m.STTReconnects.Inc()
			logger.Warn().Int("attempt", attempt).Msg("Reconnecting recognition stream")
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-a.closed:
				return
			case <-ctx.Done():
				a.setErr(ctx.Err())
				return
			}
		}

		stream, err := a.openStream(ctx)
		if err != nil {
			if !transient(err) || attempt >= a.maxReconnects {
				a.m.STTErrors.WithLabelValues(providerName, "open").Inc()
				a.setErr(fmt.Errorf("%w: open: %v", stt.ErrUpstreamUnavailable, err))
				return
			}
			continue
		}

		pending, err = a.pump(ctx, stream, pending)
		if err == nil {
			logger.Info().Msg("Recognition stream drained")
			return
		}
		if errors.Is(err, errAdapterClosed) {
			logger.Debug().Msg("Recognition stream abandoned on close")
			return
		}
		if !transient(err) || attempt >= a.maxReconnects {
			a.m.STTErrors.WithLabelValues(providerName, "stream").Inc()
			a.setErr(fmt.Errorf("%w: %v", stt.ErrUpstreamUnavailable, err))
			return
		}
		logger.Warn().Err(err).Msg("Transient recognition stream failure")
	}
}

// pump runs one stream incarnation. It returns the frames that were pulled
// off the buffer but not accepted by the backend, for resend on reconnect.
// A nil error means the backend was cleanly drained after end-of-audio.
func (a *Adapter) pump(ctx context.Context, stream recognizeStream, pending [][]byte) ([][]byte, error) {
	quit := make(chan struct{})
	unsentCh := make(chan [][]byte, 1)
	sendDone := make(chan struct{})

	go func() {
		defer close(sendDone)
		for i, f := range pending {
			if err := stream.Send(audioRequest(f)); err != nil {
				unsentCh <- pending[i:]
				return
			}
		}
		for {
			select {
			case f, ok := <-a.audio:
				if !ok {
					_ = stream.CloseSend()
					unsentCh <- nil
					return
				}
				if err := stream.Send(audioRequest(f)); err != nil {
					unsentCh <- [][]byte{f}
					return
				}
			case <-quit:
				unsentCh <- nil
				return
			case <-a.closed:
				unsentCh <- nil
				return
			case <-ctx.Done():
				unsentCh <- nil
				return
			}
		}
	}()

	collect := func() [][]byte {
		close(quit)
		<-sendDone
		return <-unsentCh
	}

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			a.mu.Lock()
			closed := a.sendClosed
			a.mu.Unlock()
			leftover := collect()
			if closed && len(leftover) == 0 {
				return nil, nil
			}
			// Backend hung up before we finished sending (idle timeout).
			return leftover, errors.New("stream closed by backend before end-of-audio")
		}
		if err != nil {
			return collect(), err
		}
		if !a.emit(resp) {
			collect()
			return nil, errAdapterClosed
		}
	}
}

// emit normalizes one streaming response. Only final results are forwarded;
// interim/duplicate results for the same utterance are discarded upstream by
// requesting final-only results. The speaker tag is taken from the first
// word of the winning alternative, matching the backend's diarization shape.
// Returns false when the adapter was closed while a delivery was pending,
// so the caller stops instead of producing into a dead channel.
func (a *Adapter) emit(resp *speechpb.StreamingRecognizeResponse) bool {
	for _, r := range resp.Results {
		if !r.IsFinal || len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		tag := 0
		if len(alt.Words) > 0 {
			tag = int(alt.Words[0].SpeakerTag)
		}
		a.m.RecognitionResults.Inc()
		select {
		case a.results <- stt.Result{
			Text:       alt.Transcript,
			SpeakerTag: tag,
			IsFinal:    true,
			Confidence: float64(alt.Confidence),
		}:
		case <-a.closed:
			return false
		}
	}
	return true
}

// openCloudStream opens a streaming call and sends the config-first message.
func (a *Adapter) openCloudStream(ctx context.Context) (recognizeStream, error) {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, err
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: buildStreamingConfig(a.cfg),
		},
	}); err != nil {
		return nil, err
	}
	return stream, nil
}

func buildStreamingConfig(cfg stt.StreamConfig) *speechpb.StreamingRecognitionConfig {
	rc := &speechpb.RecognitionConfig{
		Encoding:                   encodingOf(cfg.Encoding),
		SampleRateHertz:            int32(cfg.SampleRateHz),
		LanguageCode:               stt.NormalizeLanguage(cfg.Language),
		EnableAutomaticPunctuation: true,
		Model:                      "latest_long",
	}
	if cfg.Diarization {
		rc.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          int32(cfg.MinSpeakers),
			MaxSpeakerCount:          int32(cfg.MaxSpeakers),
		}
	}
	return &speechpb.StreamingRecognitionConfig{
		Config:         rc,
		InterimResults: false,
	}
}

func encodingOf(name string) speechpb.RecognitionConfig_AudioEncoding {
	switch name {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_WEBM_OPUS
	}
}

func audioRequest(frame []byte) *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: frame,
		},
	}
}

// transient reports whether a stream error is worth a reconnect attempt.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}
