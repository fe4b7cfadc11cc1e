// Package models defines the data structures shared across the transcription engine.
package models

import "time"

// RecognitionResult is one normalized utterance from the speech backend.
type RecognitionResult struct {
	Text       string  `json:"text"`
	SpeakerTag int     `json:"speakerTag"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence"`
}

// TranscriptEntry is the unit written to the transcript sink.
// Immutable once constructed. Sequence is assigned per session at emission
// time and is strictly increasing within the session.
type TranscriptEntry struct {
	SessionID      string `json:"sessionId"`
	Sequence       uint64 `json:"sequence"`
	SpeakerName    string `json:"speakerName"`
	Text           string `json:"text"`
	SpeakerChanged bool   `json:"speakerChanged"`
	Timestamp      int64  `json:"timestamp"`
}

// SpeakerMappingRequest asks the client to attach a name to a speaker tag.
// AvailableNames holds roster names not yet assigned to any tag, in roster
// order; they are suggestions only.
type SpeakerMappingRequest struct {
	SpeakerTag     int      `json:"speakerTag"`
	SampleText     string   `json:"sampleText"`
	AvailableNames []string `json:"availableNames"`
}

// SessionMeta is the immutable metadata a session is created with.
type SessionMeta struct {
	SessionID string    `json:"sessionId"`
	Title     string    `json:"title"`
	Language  string    `json:"language"`
	Roster    []string  `json:"roster"`
	StartedAt time.Time `json:"startedAt"`
}

// SessionInfo is a point-in-time snapshot of a live session, served by the
// debug listing endpoint.
type SessionInfo struct {
	SessionID  string    `json:"sessionId"`
	Title      string    `json:"title"`
	Language   string    `json:"language"`
	State      string    `json:"state"`
	EntryCount uint64    `json:"entryCount"`
	StartedAt  time.Time `json:"startedAt"`
}
