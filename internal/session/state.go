package session

import "fmt"

type State int

const (
	StateConnecting State = iota
	StateStreaming
	StateDraining
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var allowedTransitions = map[State][]State{
	StateConnecting: {StateStreaming, StateFailed},
	StateStreaming:  {StateDraining, StateFailed},
	StateDraining:   {StateClosed, StateFailed},
	StateFailed:     {StateClosed},
}

func (s State) canTransitionTo(next State) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed
}
