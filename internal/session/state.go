// Package session runs the peer-to-peer sync protocol over a single
// connection: handshake and authentication, sync negotiation, sequential file
// transfers, and liveness. One Machine per connection tracks where in the
// protocol that connection is; a violation parks it in StateError, from which
// only Closed is reachable.
package session

import (
	"sync"

	"github.com/quillsync/quill/internal/syncerr"
)

// State is a session's position in the protocol.
type State int

const (
	// StateConnected is the initial state: transport up, identity unproven.
	StateConnected State = iota + 1
	// StateAuthenticated means the handshake was accepted.
	StateAuthenticated
	// StateSyncing means a sync exchange (negotiation plus its transfers)
	// is in progress.
	StateSyncing
	// StateIdle is an authenticated session between sync exchanges.
	StateIdle
	// StateClosed is terminal.
	StateClosed
	// StateError absorbs protocol violations. Only Closed follows it.
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateSyncing:
		return "syncing"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// transitions holds the legal protocol moves. Heartbeats are not transitions;
// they leave the state untouched.
var transitions = map[State][]State{
	StateConnected:     {StateAuthenticated, StateClosed},
	StateAuthenticated: {StateSyncing, StateIdle, StateClosed},
	StateSyncing:       {StateIdle, StateClosed},
	StateIdle:          {StateSyncing, StateClosed},
	StateError:         {StateClosed},
	StateClosed:        nil,
}

// Machine is a thread-safe session state tracker.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine starts in StateConnected.
func NewMachine() *Machine {
	return &Machine{state: StateConnected}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// To moves the machine to next. An illegal move parks the machine in
// StateError and returns a network-kind error; the connection must then be
// torn down.
func (m *Machine) To(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ok := range transitions[m.state] {
		if ok == next {
			m.state = next
			return nil
		}
	}
	err := syncerr.New(syncerr.KindNetwork, "illegal session transition %s -> %s", m.state, next)
	m.state = StateError
	return err
}

// Fail parks the machine in StateError unconditionally.
func (m *Machine) Fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateClosed {
		m.state = StateError
	}
}

// Close moves to StateClosed from any state.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateClosed
}
