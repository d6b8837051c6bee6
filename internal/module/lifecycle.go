package module

import (
	"sync"
	"time"
)

// Lifecycle holds the mutable lifecycle state a worker embeds. The zero value
// is ready to use and reports StateInitializing.
//
// All mutation funnels through UpdateStatus so readers never observe the
// running flag, the readiness gate and the status record out of step with
// each other.
type Lifecycle struct {
	mu          sync.Mutex
	status      Status
	running     bool
	ready       chan struct{}
	readyClosed bool
	stopBegun   bool
}

// ensureLocked lazily initialises the zero value. Callers hold mu.
func (l *Lifecycle) ensureLocked() {
	if l.ready == nil {
		l.ready = make(chan struct{})
	}
	if l.status.State == "" {
		l.status = Status{State: StateInitializing, LastUpdate: time.Now().UTC()}
	}
}

// UpdateStatus is the single mutation point for lifecycle status. Once a
// terminal state is recorded further updates keep it; terminal states also
// clear the running flag so Running can never report true for a dead module.
func (l *Lifecycle) UpdateStatus(state State, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updateLocked(state, err)
}

func (l *Lifecycle) updateLocked(state State, err error) {
	l.ensureLocked()
	if l.status.State.Terminal() {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	l.status = Status{State: state, LastUpdate: time.Now().UTC(), Err: msg}
	if state.Terminal() {
		l.running = false
	}
}

// Status returns a snapshot copy of the current status.
func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLocked()
	return l.status
}

// MarkRunning records a completed start sequence: the running flag, the
// readiness signal and the StateRunning status change under one lock.
func (l *Lifecycle) MarkRunning() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLocked()
	if l.status.State.Terminal() {
		return
	}
	l.running = true
	if !l.readyClosed {
		close(l.ready)
		l.readyClosed = true
	}
	l.updateLocked(StateRunning, nil)
}

// Fail records a failure and moves the module to StateError.
func (l *Lifecycle) Fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLocked()
	l.running = false
	l.updateLocked(StateError, err)
}

// MarkStopped records the end of a completed stop sequence.
func (l *Lifecycle) MarkStopped() {
	l.UpdateStatus(StateStopped, nil)
}

// Running reports true only when both the running flag is set and readiness
// was signaled. The two are checked under one lock so there is no window
// where a caller sees running without completed initialization.
func (l *Lifecycle) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLocked()
	return l.running && l.readyClosed
}

// WaitUntilReady blocks until readiness is signaled or the timeout elapses.
func (l *Lifecycle) WaitUntilReady(timeout time.Duration) bool {
	l.mu.Lock()
	l.ensureLocked()
	ready := l.ready
	closed := l.readyClosed
	l.mu.Unlock()

	if closed {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ready:
		return true
	case <-timer.C:
		return false
	}
}

// BeginStop is the cleanup guard. The first call clears the running flag,
// resets the readiness gate, and returns true; every later call returns
// false so cleanup runs exactly once.
func (l *Lifecycle) BeginStop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensureLocked()
	if l.stopBegun {
		return false
	}
	l.stopBegun = true
	l.running = false
	if l.readyClosed {
		l.ready = make(chan struct{})
		l.readyClosed = false
	}
	return true
}
