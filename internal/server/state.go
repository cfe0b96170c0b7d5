package server

import (
	"fmt"
	"sync"
)

// ConnState is the lifecycle stage of a socket connection.
type ConnState int

const (
	StatePending ConnState = iota
	StateAuthorized
	StateRejected
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAuthorized:
		return "authorized"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

var transitions = map[ConnState][]ConnState{
	StatePending:    {StateAuthorized, StateRejected},
	StateAuthorized: {StateClosed},
}

// lifecycle guards a connection's state. Only the moves in transitions are
// accepted; Rejected and Closed are terminal.
type lifecycle struct {
	mu    sync.Mutex
	state ConnState
}

func (l *lifecycle) current() ConnState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) transition(to ConnState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, next := range transitions[l.state] {
		if next == to {
			l.state = to
			return nil
		}
	}
	return fmt.Errorf("connection state %s cannot move to %s", l.state, to)
}
