// Package mock provides a scripted STT adapter for tests and for running the
// service without cloud credentials. It emits diarized final results at
// deterministic points in the audio stream.
package mock

import (
	"context"
	"sync"

	"meeting-transcription-service/internal/service/stt"
)

// ScriptedUtterance is one diarized result the adapter will emit once the
// session has sent AfterFrames audio frames.
type ScriptedUtterance struct {
	Text        string
	SpeakerTag  int
	Confidence  float64
	AfterFrames int
}

// DefaultScript simulates a short two-speaker meeting.
var DefaultScript = []ScriptedUtterance{
	{Text: "Good morning everyone, let's get started.", SpeakerTag: 1, Confidence: 0.95, AfterFrames: 2},
	{Text: "Thanks, I have the quarterly numbers ready.", SpeakerTag: 2, Confidence: 0.92, AfterFrames: 4},
	{Text: "Great, walk us through them.", SpeakerTag: 1, Confidence: 0.97, AfterFrames: 6},
}

// Adapter implements stt.Adapter with scripted results. Emission is
// synchronous with SendAudio and CloseSend, which keeps tests deterministic.
type Adapter struct {
	mu         sync.Mutex
	script     []ScriptedUtterance
	results    chan stt.Result
	frames     int
	next       int
	started    bool
	sendClosed bool
}

// New creates a mock adapter with the given script. A nil script uses
// DefaultScript.
func New(script []ScriptedUtterance) *Adapter {
	if script == nil {
		script = DefaultScript
	}
	return &Adapter{
		script:  script,
		results: make(chan stt.Result, len(script)+1),
	}
}

// Start begins the scripted session.
func (a *Adapter) Start(ctx context.Context, cfg stt.StreamConfig) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.started = true
	return nil
}

// SendAudio counts frames and emits every scripted utterance whose frame
// threshold has been reached, in script order.
func (a *Adapter) SendAudio(ctx context.Context, frame []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendClosed {
		return nil
	}
	a.frames++
	a.emitDue()
	return nil
}

// CloseSend flushes the remaining script and closes the result stream.
func (a *Adapter) CloseSend(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendClosed {
		return nil
	}
	a.sendClosed = true
	for ; a.next < len(a.script); a.next++ {
		a.emit(a.script[a.next])
	}
	close(a.results)
	return nil
}

// Results returns the scripted result stream.
func (a *Adapter) Results() <-chan stt.Result {
	return a.results
}

// Err always reports a clean drain.
func (a *Adapter) Err() error {
	return nil
}

// Close stops emission and closes the result stream if CloseSend never ran.
// Idempotent; there is no backend connection to release.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.sendClosed {
		a.sendClosed = true
		close(a.results)
	}
	return nil
}

func (a *Adapter) emitDue() {
	for a.next < len(a.script) && a.script[a.next].AfterFrames <= a.frames {
		a.emit(a.script[a.next])
		a.next++
	}
}

func (a *Adapter) emit(u ScriptedUtterance) {
	a.results <- stt.Result{
		Text:       u.Text,
		SpeakerTag: u.SpeakerTag,
		IsFinal:    true,
		Confidence: u.Confidence,
	}
}
