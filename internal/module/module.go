// Package module defines the lifecycle contract shared by every supervised
// worker: a small state machine with thread-safe status reporting, a readiness
// gate, and a cleanup-once guard.
package module

import (
	"context"
	"time"
)

// State names a position in the lifecycle state machine.
//
// Valid transitions: initializing → running → stopped, or error from either
// of the first two. stopped and error are terminal; a module is never
// restarted in place, a fresh instance is required.
type State string

const (
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateError        State = "error"
	StateStopped      State = "stopped"
)

// Terminal reports whether no further transition may leave the state.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

// Status is a point-in-time snapshot of a module's lifecycle state.
// Callers always receive a copy and never observe a half-written update.
type Status struct {
	State      State
	LastUpdate time.Time
	Err        string
}

// Module is the capability every supervised worker implements. The supervisor
// composes workers through this interface only; there is no shared base type.
type Module interface {
	// Name identifies the module in logs, status events and ordering.
	Name() string

	// Start performs module-specific initialization and, on success, leaves
	// the module running with readiness signaled. A failure is returned to
	// the caller after the status was moved to StateError.
	Start(ctx context.Context) error

	// Stop clears the running flag, performs cleanup exactly once, and moves
	// the module to StateStopped. Stopping an already-stopped module is a
	// no-op.
	Stop(ctx context.Context) error

	// Status returns a snapshot copy of the current lifecycle status.
	Status() Status

	// Running reports true only while the start sequence completed and
	// readiness is signaled.
	Running() bool

	// WaitUntilReady blocks until readiness is signaled or the timeout
	// elapses, reporting whether the module became ready.
	WaitUntilReady(timeout time.Duration) bool
}
