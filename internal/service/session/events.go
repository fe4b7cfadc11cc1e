package session

// EventType names a client-visible engine event.
type EventType string

const (
	EventStatus                 EventType = "status"
	EventTranscriptionReceived  EventType = "transcription_received"
	EventTranscriptionRecorded  EventType = "transcription_recorded"
	EventSpeakerMappingRequired EventType = "speaker_mapping_required"
	EventSpeakerMapped          EventType = "speaker_mapped"
	EventCompleted              EventType = "completed"
	EventError                  EventType = "error"
)

// Event is one client-visible engine event. The connection layer relays
// events in exactly the order the session produced them.
type Event struct {
	Type           EventType `json:"type"`
	SessionID      string    `json:"sessionId,omitempty"`
	Message        string    `json:"message,omitempty"`
	Link           string    `json:"link,omitempty"`
	Text           string    `json:"text,omitempty"`
	SpeakerName    string    `json:"speakerName,omitempty"`
	SpeakerChanged bool      `json:"speakerChanged,omitempty"`
	SpeakerTag     int       `json:"speakerTag,omitempty"`
	SampleText     string    `json:"sampleText,omitempty"`
	AvailableNames []string  `json:"availableNames,omitempty"`
	EntryCount     uint64    `json:"entryCount,omitempty"`
}
