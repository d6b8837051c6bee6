// Package supervisor owns the fixed set of worker modules: ordered fail-fast
// startup, periodic health polling, and guarded reverse-order shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ada-ai/ada/internal/constants"
	"github.com/ada-ai/ada/internal/eventbus"
	"github.com/ada-ai/ada/internal/module"
)

// ErrAlreadyStarted is returned by Start when the supervisor is running.
var ErrAlreadyStarted = errors.New("supervisor: already started")

// ErrStopped is returned when a stopped supervisor is started or registered
// into. A supervisor is never restarted; a new instance is required.
var ErrStopped = errors.New("supervisor: stopped")

type registration struct {
	name        string
	mod         module.Module
	stopTimeout time.Duration
}

// Option configures a module registration.
type Option func(*registration)

// WithStopTimeout customises the shutdown timeout for one module.
func WithStopTimeout(timeout time.Duration) Option {
	return func(reg *registration) {
		if timeout > 0 {
			reg.stopTimeout = timeout
		}
	}
}

// Supervisor starts modules in registration order, verifies each reports
// ready before the next one starts, polls their health, and stops them in
// reverse order exactly once.
type Supervisor struct {
	bus            *eventbus.Bus
	logger         *log.Logger
	healthInterval time.Duration
	readyTimeout   time.Duration

	mu      sync.Mutex
	order   []string
	entries map[string]*registration
	started bool
	stopped bool
	cause   error

	errors     chan error
	stopOnce   sync.Once
	quitHealth chan struct{}
	quitOnce   sync.Once
	healthDone chan struct{}
	done       chan struct{}
	doneOnce   sync.Once
}

// SupervisorOption customises supervisor behaviour.
type SupervisorOption func(*Supervisor)

// WithLogger overrides the supervisor logger.
func WithLogger(logger *log.Logger) SupervisorOption {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealthInterval overrides the health poll cadence.
func WithHealthInterval(interval time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if interval > 0 {
			s.healthInterval = interval
		}
	}
}

// WithReadyTimeout overrides how long a module may take to signal readiness
// after its start call returned.
func WithReadyTimeout(timeout time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if timeout > 0 {
			s.readyTimeout = timeout
		}
	}
}

// New constructs a supervisor publishing status transitions on bus.
func New(bus *eventbus.Bus, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		bus:            bus,
		logger:         log.Default(),
		healthInterval: constants.HealthPollInterval,
		readyTimeout:   constants.ModuleReadyTimeout,
		entries:        make(map[string]*registration),
		errors:         make(chan error, 1),
		quitHealth:     make(chan struct{}),
		healthDone:     make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register appends a module to the start order. Registration is rejected
// after Start and for duplicate module names.
func (s *Supervisor) Register(mod module.Module, opts ...Option) error {
	if mod == nil {
		return fmt.Errorf("supervisor: nil module")
	}
	name := mod.Name()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return fmt.Errorf("supervisor: cannot register module %q after start", name)
	}
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("supervisor: module %q already registered", name)
	}

	reg := &registration{
		name:        name,
		mod:         mod,
		stopTimeout: constants.ModuleStopTimeout,
	}
	for _, opt := range opts {
		opt(reg)
	}

	s.entries[name] = reg
	s.order = append(s.order, name)
	return nil
}

// Start brings every registered module up in registration order. A module
// that fails to start, or that does not report ready and running afterwards,
// aborts the whole sequence: modules already started are stopped in reverse
// and the failure is returned. On success the health loop begins.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	regs := s.registrationsLocked()
	s.mu.Unlock()

	started := make([]*registration, 0, len(regs))

	for _, reg := range regs {
		s.logger.Printf("[Supervisor] starting module %s", reg.name)
		if err := reg.mod.Start(ctx); err != nil {
			s.logger.Printf("[Supervisor] module %s failed to start: %v", reg.name, err)
			s.abortStartup(started)
			return fmt.Errorf("supervisor: start module %q: %w", reg.name, err)
		}
		started = append(started, reg)

		if !reg.mod.WaitUntilReady(s.readyTimeout) {
			s.abortStartup(started)
			return fmt.Errorf("supervisor: module %q did not become ready within %s", reg.name, s.readyTimeout)
		}
		if !reg.mod.Running() {
			s.abortStartup(started)
			return fmt.Errorf("supervisor: module %q reported not running after start", reg.name)
		}

		s.publishStatus(ctx, reg)
		s.logger.Printf("[Supervisor] module %s is running", reg.name)
	}

	go s.healthLoop()
	return nil
}

// healthLoop polls every module until a fatal condition or a stop request,
// then always runs the guarded shutdown.
func (s *Supervisor) healthLoop() {
	defer close(s.healthDone)

	ticker := time.NewTicker(s.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quitHealth:
			return
		case <-ticker.C:
			fatal := s.sweep()
			if fatal == nil {
				continue
			}
			s.setCause(fatal)
			s.reportError(fatal)
			s.logger.Printf("[Supervisor] health check failed: %v", fatal)
			// Shutdown runs outside the loop goroutine's select so the
			// guarded stop below is the loop's single exit action.
			go func() {
				if err := s.Stop(context.Background()); err != nil {
					s.logger.Printf("[Supervisor] shutdown after health failure: %v", err)
				}
			}()
			return
		}
	}
}

// sweep checks every module once. A module that is not running, or whose
// status reached StateError, is fatal for the whole system. A non-empty
// error message on an otherwise running module is logged only.
func (s *Supervisor) sweep() error {
	select {
	case <-s.quitHealth:
		return nil
	default:
	}

	s.mu.Lock()
	regs := s.registrationsLocked()
	s.mu.Unlock()

	for _, reg := range regs {
		status := reg.mod.Status()
		if !reg.mod.Running() {
			return fmt.Errorf("module %q is not running (state=%s err=%q)", reg.name, status.State, status.Err)
		}
		if status.State == module.StateError {
			return fmt.Errorf("module %q reported error state: %s", reg.name, status.Err)
		}
		if status.Err != "" {
			s.logger.Printf("[Supervisor] module %s reports error while running: %s", reg.name, status.Err)
		}
	}
	return nil
}

// Stop shuts every started module down in reverse registration order,
// exactly once. A module whose stop fails is logged and the sequence
// continues; the last failure is returned. Later calls return nil.
func (s *Supervisor) Stop(ctx context.Context) error {
	var stopErr error
	s.stopOnce.Do(func() {
		stopErr = s.shutdown(ctx)
	})
	return stopErr
}

func (s *Supervisor) shutdown(ctx context.Context) error {
	s.signalHealthQuit()

	s.mu.Lock()
	s.stopped = true
	wasStarted := s.started
	s.started = false
	regs := s.registrationsLocked()
	s.mu.Unlock()

	defer s.closeDone()

	if !wasStarted {
		return nil
	}

	var stopErr error
	for i := len(regs) - 1; i >= 0; i-- {
		reg := regs[i]
		s.logger.Printf("[Supervisor] stopping module %s", reg.name)

		stopCtx, cancel := context.WithTimeout(ctx, reg.stopTimeout)
		err := reg.mod.Stop(stopCtx)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Printf("[Supervisor] stop module %s failed: %v", reg.name, err)
			stopErr = fmt.Errorf("supervisor: stop module %q: %w", reg.name, err)
			continue
		}
		s.publishStatus(ctx, reg)
	}
	return stopErr
}

// abortStartup rolls back the modules started so far, in reverse order.
// Rollback errors are logged and ignored; the start failure wins.
func (s *Supervisor) abortStartup(started []*registration) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ModuleStopTimeout)
	defer cancel()

	for i := len(started) - 1; i >= 0; i-- {
		reg := started[i]
		if err := reg.mod.Stop(ctx); err != nil {
			s.logger.Printf("[Supervisor] rollback stop of %s failed: %v", reg.name, err)
		}
	}

	s.signalHealthQuit()
	s.mu.Lock()
	s.stopped = true
	s.started = false
	s.mu.Unlock()
	s.stopOnce.Do(func() {})
	s.closeDone()
}

func (s *Supervisor) closeDone() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

// Errors surfaces the fatal health failure, buffered so the health loop
// never blocks on a slow reader.
func (s *Supervisor) Errors() <-chan error {
	return s.errors
}

// Done closes once the supervisor finished shutting down.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Cause returns the fatal error that triggered shutdown, if any.
func (s *Supervisor) Cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// ModuleStatus pairs a module name with its lifecycle snapshot.
type ModuleStatus struct {
	Name    string
	Status  module.Status
	Running bool
}

// Statuses returns a snapshot for every registered module, in start order.
func (s *Supervisor) Statuses() []ModuleStatus {
	s.mu.Lock()
	regs := s.registrationsLocked()
	s.mu.Unlock()

	statuses := make([]ModuleStatus, 0, len(regs))
	for _, reg := range regs {
		statuses = append(statuses, ModuleStatus{
			Name:    reg.name,
			Status:  reg.mod.Status(),
			Running: reg.mod.Running(),
		})
	}
	return statuses
}

func (s *Supervisor) registrationsLocked() []*registration {
	regs := make([]*registration, 0, len(s.order))
	for _, name := range s.order {
		if reg, ok := s.entries[name]; ok {
			regs = append(regs, reg)
		}
	}
	return regs
}

func (s *Supervisor) signalHealthQuit() {
	s.quitOnce.Do(func() {
		close(s.quitHealth)
	})
}

func (s *Supervisor) setCause(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cause == nil {
		s.cause = err
	}
}

func (s *Supervisor) reportError(err error) {
	select {
	case s.errors <- err:
	default:
	}
}

func (s *Supervisor) publishStatus(ctx context.Context, reg *registration) {
	status := reg.mod.Status()
	_ = eventbus.Publish(ctx, s.bus, eventbus.System.Status, eventbus.SourceSupervisor, eventbus.SystemStatusEvent{
		Module: reg.name,
		State:  string(status.State),
		Detail: status.Err,
		At:     time.Now().UTC(),
	})
}
