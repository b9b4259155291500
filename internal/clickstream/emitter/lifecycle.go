package emitter

import (
	"fmt"
	"sync"
)

// State is a phase of the emitter process.
type State int

const (
	Initializing State = iota
	Running
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "INITIALIZING"
	case Running:
		return "RUNNING"
	case Draining:
		return "DRAINING"
	case Terminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var transitions = map[State][]State{
	Initializing: {Running, Terminated},
	Running:      {Draining},
	Draining:     {Terminated},
}

// Lifecycle tracks the process state and rejects illegal transitions.
type Lifecycle struct {
	mu      sync.Mutex
	state   State
	history []State
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: Initializing, history: []State{Initializing}}
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// History returns every state entered, oldest first.
func (l *Lifecycle) History() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.history...)
}

func (l *Lifecycle) Transition(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, allowed := range transitions[l.state] {
		if allowed == to {
			l.state = to
			l.history = append(l.history, to)
			return nil
		}
	}

	return fmt.Errorf("illegal state transition %s -> %s", l.state, to)
}
