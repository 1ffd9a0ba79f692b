package feed

// State is the connection lifecycle state of one feed.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	}
	return "unknown"
}

// transitions is the legal forward edge per state. Any state may also
// fall back to disconnected on error or close.
var transitions = map[State][]State{
	StateDisconnected:   {StateConnecting},
	StateConnecting:     {StateConnected},
	StateConnected:      {StateAuthenticating},
	StateAuthenticating: {StateAuthenticated},
}

// canTransition reports whether from -> to is legal.
func canTransition(from, to State) bool {
	if to == StateDisconnected {
		return from != StateDisconnected
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateChange is published on the connection's state topic.
type StateChange struct {
	Feed string
	From State
	To   State
	// Reason is set on falls to disconnected and on auth failures.
	Reason string
}
