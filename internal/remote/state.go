package remote

import (
	"fmt"
	"sync"
)

// State is a backend lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Lifecycle tracks disconnected -> connecting -> connected -> disconnected.
// The zero value is disconnected.
type Lifecycle struct {
	mu    sync.Mutex
	state State
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// BeginConnect moves disconnected -> connecting.
func (l *Lifecycle) BeginConnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateDisconnected {
		return fmt.Errorf("cannot connect from state %s", l.state)
	}
	l.state = StateConnecting
	return nil
}

// Connected moves connecting -> connected.
func (l *Lifecycle) Connected() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateConnecting {
		return fmt.Errorf("cannot finish connecting from state %s", l.state)
	}
	l.state = StateConnected
	return nil
}

// Reset moves any state to disconnected and returns the previous state.
func (l *Lifecycle) Reset() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.state
	l.state = StateDisconnected
	return prev
}

// RequireConnected returns ErrNotConnected unless connected.
func (l *Lifecycle) RequireConnected() error {
	if l.State() != StateConnected {
		return ErrNotConnected
	}
	return nil
}
