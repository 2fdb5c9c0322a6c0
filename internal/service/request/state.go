// Package request tracks the lifecycle of a single recognition request.
package request

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a recognition request.
type State int

const (
	// StateOpen - audio is still being appended.
	StateOpen State = iota
	// StateFinishing - end of audio signalled, waiting for the terminal event.
	StateFinishing
	// StateTerminated - a final or an error was delivered.
	StateTerminated
	// StateDropped - torn down before any terminal event. Late events are
	// discarded.
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFinishing:
		return "FINISHING"
	case StateTerminated:
		return "TERMINATED"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for TERMINATED and DROPPED.
func (s State) IsTerminal() bool {
	return s == StateTerminated || s == StateDropped
}

var (
	ErrRequestClosed     = errors.New("request is closed")
	ErrRequestFinishing  = errors.New("request already finishing")
	ErrAlreadyTerminated = errors.New("terminal event already delivered for this request")
)

// Lifecycle is the per-request state machine. Safe for concurrent use.
//
//	OPEN ── Finish() ──→ FINISHING
//	  │                     │
//	  └──── Terminate() ────┴──→ TERMINATED   (once)
//	  └──── Drop() ─────────┴──→ DROPPED
//
// Partials are accepted in OPEN and FINISHING; recognizers keep refining
// the hypothesis after end of audio.
type Lifecycle struct {
	mu        sync.RWMutex
	requestId string
	state     State
}

func NewLifecycle(requestId string) *Lifecycle {
	return &Lifecycle{
		requestId: requestId,
		state:     StateOpen,
	}
}

func (l *Lifecycle) RequestId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.requestId
}

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// AcceptsAudio reports whether frames may still be appended.
func (l *Lifecycle) AcceptsAudio() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateOpen
}

func (l *Lifecycle) IsTerminal() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// EmitPartial validates a partial emission.
func (l *Lifecycle) EmitPartial() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state.IsTerminal() {
		return ErrRequestClosed
	}
	return nil
}

// Finish marks end of audio.
func (l *Lifecycle) Finish() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		l.state = StateFinishing
		return nil
	case StateFinishing:
		return ErrRequestFinishing
	default:
		return ErrRequestClosed
	}
}

// Terminate records delivery of the terminal event. Only the first call
// succeeds.
func (l *Lifecycle) Terminate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen, StateFinishing:
		l.state = StateTerminated
		return nil
	case StateTerminated:
		return ErrAlreadyTerminated
	default:
		return ErrRequestClosed
	}
}

// Drop abandons the request without a terminal event. Returns false if the
// request was already terminal.
func (l *Lifecycle) Drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateDropped
	return true
}
