// Package ws implements the WebSocket wire protocol for recording sessions.
package ws

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Client message types.
const (
	msgStart          = "start"
	msgAudio          = "audio"
	msgTranscription  = "transcription"
	msgSpeakerMapping = "speaker_mapping"
	msgEnd            = "end"
)

// clientMessage is the envelope for every text frame a client sends. Binary
// frames carry raw audio and bypass the envelope entirely.
type clientMessage struct {
	Type        string          `json:"type"`
	Language    string          `json:"language,omitempty"`
	Title       string          `json:"title,omitempty"`
	Roster      json.RawMessage `json:"roster,omitempty"`
	Audio       string          `json:"audio,omitempty"`
	Text        string          `json:"text,omitempty"`
	SpeakerTag  int             `json:"speakerTag,omitempty"`
	SpeakerName string          `json:"speakerName,omitempty"`
}

// rosterNames parses the roster field, which clients send either as a JSON
// list of names or as a single comma-delimited string. Blank names are
// dropped, order is preserved.
func (m *clientMessage) rosterNames() ([]string, error) {
	if len(m.Roster) == 0 {
		return nil, nil
	}

	var list []string
	if err := json.Unmarshal(m.Roster, &list); err == nil {
		return trimNames(list), nil
	}

	var joined string
	if err := json.Unmarshal(m.Roster, &joined); err == nil {
		return trimNames(strings.Split(joined, ",")), nil
	}

	return nil, fmt.Errorf("roster must be a list of names or a comma-delimited string")
}

func trimNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// audioFrame decodes the base64 audio payload of an audio text frame.
func (m *clientMessage) audioFrame() ([]byte, error) {
	if m.Audio == "" {
		return nil, fmt.Errorf("audio payload is empty")
	}
	frame, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		return nil, fmt.Errorf("audio payload is not valid base64: %v", err)
	}
	return frame, nil
}
