package session

import "testing"

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateCreated, "CREATED"},
		{StateStreaming, "STREAMING"},
		{StateClosing, "CLOSING"},
		{StateCompleted, "COMPLETED"},
		{StateFailed, "FAILED"},
		{State(42), "UNKNOWN(42)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestState_IsTerminal(t *testing.T) {
	terminal := map[State]bool{
		StateCreated:   false,
		StateStreaming: false,
		StateClosing:   false,
		StateCompleted: true,
		StateFailed:    true,
	}

	for state, want := range terminal {
		if got := state.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", state, got, want)
		}
	}
}
