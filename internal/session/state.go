package session

import "fmt"

// State is the lifecycle position of a session.
type State int

const (
	StateCreated State = iota
	StateConnected
	StateConfigured
	StateStreaming
	StateDraining
	StateFinished
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnected:
		return "connected"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateFinished:
		return "finished"
	case StateTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateTimedOut
}

// Direction tells recognition sessions from synthesis sessions.
type Direction string

const (
	Recognition Direction = "recognition"
	Synthesis   Direction = "synthesis"
)
