// Package trace runs the platform trace-route program against a single host
// and streams its output as an ordered sequence of events.
package trace

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/KilimcininKorOglu/netdiag/internal/governor"
)

// State is the lifecycle state of a trace session.
type State int32

const (
	StateSpawning State = iota
	StateRunning
	StateCompleted
	StateKilled
	StateSpawnFailed
	StateCanceled
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateKilled:
		return "killed"
	case StateSpawnFailed:
		return "spawn_failed"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// Tracer spawns trace processes.
type Tracer struct {
	config *Config
}

// New creates a new Tracer with the given configuration.
func New(config *Config) (*Tracer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.ReapTimeout <= 0 {
		config.ReapTimeout = 5 * time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 4096
	}
	return &Tracer{config: config}, nil
}

// Timeout returns the hard deadline applied to each trace.
func (t *Tracer) Timeout() time.Duration {
	return t.config.Timeout
}

// Session is a single running trace.
//
// Events are delivered in the order they were produced. The channel is closed
// after the terminal event, and only once the child process has been reaped.
type Session struct {
	host   string
	events chan Event
	done   chan struct{}
	state  atomic.Int32
	pid    atomic.Int64
}

// Host returns the traced host.
func (s *Session) Host() string {
	return s.host
}

// Events returns the event stream.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Pid returns the child process ID, or 0 if it never started.
func (s *Session) Pid() int {
	return int(s.pid.Load())
}

// Wait blocks until the session reaches a terminal state and returns it.
func (s *Session) Wait() State {
	<-s.done
	return s.State()
}

// ValidateHost checks that host is safe to hand to the trace program.
func ValidateHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", ErrMissingHost
	}
	if strings.HasPrefix(host, "-") || strings.IndexFunc(host, unicode.IsSpace) >= 0 {
		return "", ErrInvalidHost
	}
	return host, nil
}

// Start validates host and launches the trace in the background.
//
// Validation errors are returned before any process is spawned. Everything
// that happens afterwards, including spawn failures, is reported in-stream.
// Cancelling ctx kills the process.
func (t *Tracer) Start(ctx context.Context, host string) (*Session, error) {
	host, err := ValidateHost(host)
	if err != nil {
		return nil, err
	}

	s := &Session{
		host:   host,
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	go t.run(ctx, s)
	return s, nil
}

// Trace is Start followed by Events.
func (t *Tracer) Trace(ctx context.Context, host string) (<-chan Event, error) {
	s, err := t.Start(ctx, host)
	if err != nil {
		return nil, err
	}
	return s.Events(), nil
}

// run drives one session from Spawning to a terminal state.
func (t *Tracer) run(ctx context.Context, s *Session) {
	defer close(s.done)
	defer close(s.events)

	if ctx.Err() != nil {
		s.state.Store(int32(StateCanceled))
		return
	}

	name, args := t.config.command(s.host)
	cmd := exec.Command(name, args...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.spawnFailed(ctx, err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.spawnFailed(ctx, err)
		return
	}
	if err := cmd.Start(); err != nil {
		s.spawnFailed(ctx, err)
		return
	}

	s.pid.Store(int64(cmd.Process.Pid))
	s.state.Store(int32(StateRunning))

	deadline := governor.NewDeadline(ctx, t.config.Timeout)
	defer deadline.Stop()

	// The kill must not depend on the consumer reading events.
	stopKill := context.AfterFunc(deadline.Context(), func() {
		killProcess(cmd)
	})
	defer stopKill()

	stop := make(chan struct{})
	defer close(stop)

	output := make(chan Event, 16)
	exited := make(chan error, 1)

	var g errgroup.Group
	g.Go(func() error { return pump(stdout, EventChunk, t.config.BufferSize, output, stop) })
	g.Go(func() error { return pump(stderr, EventProcessError, t.config.BufferSize, output, stop) })
	go func() {
		// Pipes must be fully read before Wait closes them.
		g.Wait()
		exited <- cmd.Wait()
	}()

	for {
		select {
		case ev := <-output:
			if !s.emitBefore(ctx, deadline.Done(), ev) {
				pending := append([]Event{ev}, t.reap(output, exited)...)
				s.finish(ctx, deadline, pending)
				return
			}

		case err := <-exited:
			if !stopKill() {
				// The exit was caused by the deadline or cancellation kill.
				s.finish(ctx, deadline, drain(output))
				return
			}
			if !s.emitAll(ctx, drain(output)) {
				s.state.Store(int32(StateCanceled))
				return
			}
			s.state.Store(int32(StateCompleted))
			s.emit(ctx, exitEvent(err))
			return

		case <-deadline.Done():
			s.finish(ctx, deadline, t.reap(output, exited))
			return
		}
	}
}

// finish ends a session whose deadline fired or whose caller went away.
// The process has been killed; pending holds output not yet delivered.
func (s *Session) finish(ctx context.Context, deadline *governor.Deadline, pending []Event) {
	if !deadline.Expired() {
		s.state.Store(int32(StateCanceled))
		return
	}

	// Output produced before the kill is still worth delivering.
	s.state.Store(int32(StateKilled))
	if s.emitAll(ctx, pending) {
		s.emit(ctx, TimedOut())
	}
}

// spawnFailed reports a process that could not be started.
func (s *Session) spawnFailed(ctx context.Context, err error) {
	s.state.Store(int32(StateSpawnFailed))
	s.emit(ctx, SpawnError(err.Error()))
}

// emit delivers ev unless the consumer has gone away.
func (s *Session) emit(ctx context.Context, ev Event) bool {
	return s.emitBefore(ctx, nil, ev)
}

// emitBefore is emit that also gives up when abort is closed.
func (s *Session) emitBefore(ctx context.Context, abort <-chan struct{}, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-abort:
		return false
	}
}

// emitAll delivers events in order and reports whether all were delivered.
func (s *Session) emitAll(ctx context.Context, events []Event) bool {
	for _, ev := range events {
		if !s.emit(ctx, ev) {
			return false
		}
	}
	return true
}

// reap waits for a killed process to exit, collecting any output it flushed.
func (t *Tracer) reap(output <-chan Event, exited <-chan error) []Event {
	timer := time.NewTimer(t.config.ReapTimeout)
	defer timer.Stop()

	var pending []Event
	for {
		select {
		case ev := <-output:
			pending = append(pending, ev)
		case <-exited:
			return append(pending, drain(output)...)
		case <-timer.C:
			return pending
		}
	}
}

// drain returns whatever output is already buffered.
func drain(output <-chan Event) []Event {
	var pending []Event
	for {
		select {
		case ev := <-output:
			pending = append(pending, ev)
		default:
			return pending
		}
	}
}

// pump forwards reads from r as events of the given kind.
func pump(r io.Reader, kind EventKind, size int, out chan<- Event, stop <-chan struct{}) error {
	buf := make([]byte, size)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case out <- Event{Kind: kind, Text: string(buf[:n])}:
			case <-stop:
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// exitEvent maps the process exit status onto the terminal event.
func exitEvent(err error) Event {
	if err == nil {
		return Done()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return NonZeroExit(exitErr.ExitCode())
	}
	return NonZeroExit(-1)
}
