package feed

import "testing"

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateConnecting, StateConnected, true},
		{StateConnected, StateAuthenticating, true},
		{StateAuthenticating, StateAuthenticated, true},
		// Any live state may fall back to disconnected.
		{StateConnecting, StateDisconnected, true},
		{StateConnected, StateDisconnected, true},
		{StateAuthenticating, StateDisconnected, true},
		{StateAuthenticated, StateDisconnected, true},
		// Skipping forward is illegal.
		{StateDisconnected, StateConnected, false},
		{StateConnecting, StateAuthenticated, false},
		{StateConnected, StateAuthenticated, false},
		{StateDisconnected, StateDisconnected, false},
		// Going backwards (except to disconnected) is illegal.
		{StateAuthenticated, StateConnecting, false},
		{StateAuthenticated, StateConnected, false},
	}

	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateDisconnected:   "disconnected",
		StateConnecting:     "connecting",
		StateConnected:      "connected",
		StateAuthenticating: "authenticating",
		StateAuthenticated:  "authenticated",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
