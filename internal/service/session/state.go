package session

import "fmt"

// State is the lifecycle state of a session.
type State int

const (
	// StateCreated - session allocated, sink container ready, no audio yet.
	StateCreated State = iota
	// StateStreaming - first audio frame accepted, recognition stream open.
	StateStreaming
	// StateClosing - end requested, final results still draining.
	StateClosing
	// StateCompleted - sink writes finished; terminal.
	StateCompleted
	// StateFailed - unrecoverable error; terminal.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateStreaming:
		return "STREAMING"
	case StateClosing:
		return "CLOSING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for COMPLETED and FAILED.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}
