package session

import "errors"

// Engine error taxonomy. Protocol and state errors are reported to the
// client and never crash a session; anything that would leave the sequence
// counter or speaker map inconsistent fails the session instead.
var (
	// ErrInvalidRequest - malformed or out-of-order client message.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnknownSession - no live session with that id.
	ErrUnknownSession = errors.New("unknown session")
	// ErrInvalidState - the operation is not legal in the session's state.
	ErrInvalidState = errors.New("invalid session state")
)
