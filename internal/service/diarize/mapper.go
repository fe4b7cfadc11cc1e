// Package diarize resolves backend speaker tags into participant names and
// guarantees ordered transcript emission while confirmations are pending.
package diarize

import (
	"errors"
	"fmt"
	"time"

	"meeting-transcription-service/internal/models"
)

// ErrUnknownTag is returned when a confirmation names a tag that was never
// seen in a recognition result.
var ErrUnknownTag = errors.New("unknown speaker tag")

// Mapping is a confirmed tag-to-name assignment.
type Mapping struct {
	SpeakerTag  int    `json:"speakerTag"`
	SpeakerName string `json:"speakerName"`
}

// Turn is the outcome of feeding one input to the mapper: zero or more
// transcript entries to emit (already sequenced, in emission order), at most
// one mapping request, and at most one confirmed mapping.
type Turn struct {
	Entries []models.TranscriptEntry
	Request *models.SpeakerMappingRequest
	Mapped  *Mapping
}

// Mapper owns the per-session tag state. It is not goroutine-safe: the
// session worker is its only caller.
//
// Ordering model: the session-wide sequence is assigned at emission time.
// When results for an unresolved tag are buffered, they are emitted in their
// original arrival order once the tag resolves, interleaved with other tags'
// entries strictly by resolution time. True cross-tag utterance time is not
// recoverable once buffering occurs, so resolution order is the contract.
type Mapper struct {
	sessionID      string
	roster         []string
	defaultSpeaker string

	speakerMap map[int]string
	pending    map[int][]models.RecognitionResult

	lastSpeaker string
	seq         uint64
	autoLabels  int
}

// New creates a mapper for one session. roster may be empty, in which case
// tags auto-resolve to generated labels. defaultSpeaker names untagged text.
func New(sessionID string, roster []string, defaultSpeaker string) *Mapper {
	if defaultSpeaker == "" {
		defaultSpeaker = "Unknown"
	}
	return &Mapper{
		sessionID:      sessionID,
		roster:         append([]string(nil), roster...),
		defaultSpeaker: defaultSpeaker,
		speakerMap:     make(map[int]string),
		pending:        make(map[int][]models.RecognitionResult),
	}
}

// Observe processes one recognition result in arrival order. Non-final or
// empty results are discarded.
func (m *Mapper) Observe(res models.RecognitionResult) Turn {
	if !res.IsFinal || res.Text == "" {
		return Turn{}
	}

	// Tag 0 means the backend attached no speaker information (diarization
	// off, or client-side recognized text).
	if res.SpeakerTag <= 0 {
		return Turn{Entries: []models.TranscriptEntry{m.emit(m.defaultSpeaker, res.Text)}}
	}

	if name, ok := m.speakerMap[res.SpeakerTag]; ok {
		return Turn{Entries: []models.TranscriptEntry{m.emit(name, res.Text)}}
	}

	if _, ok := m.pending[res.SpeakerTag]; ok {
		// Already awaiting confirmation: buffer in order, no duplicate request.
		m.pending[res.SpeakerTag] = append(m.pending[res.SpeakerTag], res)
		return Turn{}
	}

	if len(m.roster) == 0 {
		m.autoLabels++
		name := fmt.Sprintf("Speaker %d", m.autoLabels)
		m.speakerMap[res.SpeakerTag] = name
		return Turn{Entries: []models.TranscriptEntry{m.emit(name, res.Text)}}
	}

	m.pending[res.SpeakerTag] = []models.RecognitionResult{res}
	return Turn{Request: &models.SpeakerMappingRequest{
		SpeakerTag:     res.SpeakerTag,
		SampleText:     res.Text,
		AvailableNames: m.AvailableNames(),
	}}
}

// ObserveText processes client-side recognized text, attributed to the
// default speaker.
func (m *Mapper) ObserveText(text string) Turn {
	return m.Observe(models.RecognitionResult{Text: text, IsFinal: true})
}

// Resolve confirms a tag-to-name assignment. Buffered results for the tag
// drain in FIFO order; re-resolving an already-mapped tag changes the name
// going forward only. A name already assigned to another tag is accepted:
// used names are only removed from suggestions, not from the valid set.
func (m *Mapper) Resolve(tag int, name string) (Turn, error) {
	if buffered, ok := m.pending[tag]; ok {
		delete(m.pending, tag)
		m.speakerMap[tag] = name
		turn := Turn{Mapped: &Mapping{SpeakerTag: tag, SpeakerName: name}}
		for _, res := range buffered {
			turn.Entries = append(turn.Entries, m.emit(name, res.Text))
		}
		return turn, nil
	}
	if _, ok := m.speakerMap[tag]; ok {
		m.speakerMap[tag] = name
		return Turn{Mapped: &Mapping{SpeakerTag: tag, SpeakerName: name}}, nil
	}
	return Turn{}, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
}

// AvailableNames returns roster names not yet assigned to any tag, in roster
// order. Suggestions only.
func (m *Mapper) AvailableNames() []string {
	used := make(map[string]bool, len(m.speakerMap))
	for _, n := range m.speakerMap {
		used[n] = true
	}
	names := make([]string, 0, len(m.roster))
	for _, n := range m.roster {
		if !used[n] {
			names = append(names, n)
		}
	}
	return names
}

// PendingCount reports how many tags await confirmation.
func (m *Mapper) PendingCount() int {
	return len(m.pending)
}

// PendingResults reports how many results are buffered across pending tags.
func (m *Mapper) PendingResults() int {
	total := 0
	for _, buf := range m.pending {
		total += len(buf)
	}
	return total
}

// Emitted reports how many entries have been emitted so far.
func (m *Mapper) Emitted() uint64 {
	return m.seq
}

func (m *Mapper) emit(name, text string) models.TranscriptEntry {
	m.seq++
	entry := models.TranscriptEntry{
		SessionID:      m.sessionID,
		Sequence:       m.seq,
		SpeakerName:    name,
		Text:           text,
		SpeakerChanged: name != m.lastSpeaker,
		Timestamp:      time.Now().UnixMilli(),
	}
	m.lastSpeaker = name
	return entry
}
