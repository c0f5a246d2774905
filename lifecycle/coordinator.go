// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/z5labs/anvil/internal/fixedpool"
	"github.com/z5labs/anvil/internal/noop"
	"github.com/z5labs/anvil/internal/slogfield"
)

// State is where a [Coordinator] is in the shutdown sequence.
type State int32

const (
	Running State = iota
	SignalReceived
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case SignalReceived:
		return "signal_received"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Phase groups hooks which run concurrently with each other.
// Phases run one after another in declaration order.
type Phase int

const (
	// PhaseStopAccepting stops new work from arriving.
	PhaseStopAccepting Phase = iota

	// PhaseDrain waits for in-flight work to complete.
	PhaseDrain

	// PhaseFinalize flushes logs and telemetry. It always runs,
	// even when draining was abandoned.
	PhaseFinalize

	numPhases
)

func (p Phase) String() string {
	switch p {
	case PhaseStopAccepting:
		return "stop_accepting"
	case PhaseDrain:
		return "drain"
	case PhaseFinalize:
		return "finalize"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ErrShutdownStarted is returned when registering a hook after shutdown began.
var ErrShutdownStarted = errors.New("lifecycle: shutdown already started")

// UnknownPhaseError is returned when registering a hook for an undefined [Phase].
type UnknownPhaseError struct {
	Phase Phase
}

// Error implements the error interface.
func (e UnknownPhaseError) Error() string {
	return fmt.Sprintf("lifecycle: unknown phase: %s", e.Phase)
}

// PhaseError wraps the joined hook failures of a single [Phase].
type PhaseError struct {
	Phase Phase
	Cause error
}

// Error implements the error interface.
func (e PhaseError) Error() string {
	return fmt.Sprintf("lifecycle: %s hooks failed: %s", e.Phase, e.Cause)
}

// Unwrap implements the implicit interface for usage with errors.Is and errors.As.
func (e PhaseError) Unwrap() error {
	return e.Cause
}

// ErrShutdownAbandoned is reported when draining did not finish, either
// because the shutdown timeout elapsed or a second signal arrived.
var ErrShutdownAbandoned = errors.New("lifecycle: graceful shutdown abandoned")

// Coordinator waits for a shutdown trigger and then runs registered
// hooks phase by phase, bounded by a single timeout.
//
// Only the goroutine calling [Coordinator.Run] changes state.
type Coordinator struct {
	log           *slog.Logger
	timeout       time.Duration
	finalizeGrace time.Duration
	signals       []os.Signal

	mu     sync.Mutex
	sealed bool
	hooks  [numPhases][]Hook

	state       atomic.Int32
	trigger     chan struct{}
	triggerOnce sync.Once
	done        chan struct{}
}

// CoordinatorOption configures a [Coordinator].
type CoordinatorOption func(*Coordinator)

// LogHandler sets the handler shutdown progress is logged to.
func LogHandler(h slog.Handler) CoordinatorOption {
	return func(c *Coordinator) {
		c.log = slog.New(h)
	}
}

// ShutdownTimeout bounds the StopAccepting and Drain phases together.
func ShutdownTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// FinalizeGrace is how long Finalize hooks may take once the shutdown
// timeout has already been spent.
func FinalizeGrace(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.finalizeGrace = d
		}
	}
}

// Signals overrides the signals which trigger shutdown. The defaults
// are SIGINT and SIGTERM.
func Signals(sigs ...os.Signal) CoordinatorOption {
	return func(c *Coordinator) {
		c.signals = sigs
	}
}

// NewCoordinator returns a [Coordinator] in the [Running] state.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		log:           slog.New(noop.LogHandler{}),
		timeout:       15 * time.Second,
		finalizeGrace: time.Second,
		signals:       []os.Signal{os.Interrupt, syscall.SIGTERM},
		trigger:       make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds hook to phase. Hooks are fixed once shutdown starts,
// after which Register returns [ErrShutdownStarted].
func (c *Coordinator) Register(phase Phase, hook Hook) error {
	if phase < 0 || phase >= numPhases {
		return UnknownPhaseError{Phase: phase}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return ErrShutdownStarted
	}
	c.hooks[phase] = append(c.hooks[phase], hook)
	return nil
}

// State returns the current state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Done is closed once the coordinator reaches [Terminated].
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Trigger starts shutdown as if a signal had been received.
func (c *Coordinator) Trigger() {
	c.triggerOnce.Do(func() {
		close(c.trigger)
	})
}

func (c *Coordinator) seal() [numPhases][]Hook {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
	return c.hooks
}

// Run blocks until a signal arrives, [Coordinator.Trigger] is called or
// ctx is cancelled, then shuts down. Hook failures are logged and joined
// into the returned error, they never stop the sequence.
func (c *Coordinator) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, c.signals...)
	defer signal.Stop(sigCh)

	defer close(c.done)
	defer c.state.Store(int32(Terminated))

	select {
	case sig := <-sigCh:
		c.log.InfoContext(ctx, "received shutdown signal", slogfield.Signal(sig))
	case <-c.trigger:
		c.log.InfoContext(ctx, "shutdown triggered")
	case <-ctx.Done():
		c.log.InfoContext(ctx, "shutdown context cancelled", slogfield.Error(context.Cause(ctx)))
	}
	c.state.Store(int32(SignalReceived))

	hooks := c.seal()
	base := context.WithoutCancel(ctx)
	deadline := time.Now().Add(c.timeout)

	c.state.Store(int32(Draining))
	c.log.InfoContext(ctx, "server shutting down", slogfield.Duration("timeout", c.timeout))

	drainCtx, cancelDrain := context.WithDeadline(base, deadline)
	drained := make(chan error, 1)
	go func() {
		drained <- c.drain(drainCtx, hooks)
	}()

	var err error
	select {
	case err = <-drained:
		if drainCtx.Err() != nil {
			err = errors.Join(ErrShutdownAbandoned, err)
		}
	case sig := <-sigCh:
		c.log.WarnContext(ctx, "graceful shutdown interrupted by second signal", slogfield.Signal(sig))
		err = ErrShutdownAbandoned
	case <-drainCtx.Done():
		c.log.WarnContext(ctx, "graceful shutdown timed out", slogfield.Duration("timeout", c.timeout))
		err = ErrShutdownAbandoned
	}
	cancelDrain()

	finalDeadline := deadline
	if until := time.Until(deadline); until < c.finalizeGrace {
		finalDeadline = time.Now().Add(c.finalizeGrace)
	}
	finalCtx, cancelFinal := context.WithDeadline(base, finalDeadline)
	defer cancelFinal()

	ferr := c.runPhase(finalCtx, PhaseFinalize, hooks[PhaseFinalize])
	if ferr != nil {
		c.log.ErrorContext(ctx, "failed to finalize shutdown", slogfield.Error(ferr))
	}
	return errors.Join(err, ferr)
}

func (c *Coordinator) drain(ctx context.Context, hooks [numPhases][]Hook) error {
	var errs []error
	for _, phase := range []Phase{PhaseStopAccepting, PhaseDrain} {
		err := c.runPhase(ctx, phase, hooks[phase])
		if err != nil {
			c.log.ErrorContext(ctx, "shutdown phase failed", slogfield.String("phase", phase.String()), slogfield.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) runPhase(ctx context.Context, phase Phase, hooks []Hook) error {
	if len(hooks) == 0 {
		return nil
	}

	tasks := make([]fixedpool.Task, len(hooks))
	for i, h := range hooks {
		tasks[i] = h.Run
	}

	// Each phase is bounded by ctx even when a hook ignores it.
	errCh := make(chan error, 1)
	go func() {
		errCh <- fixedpool.Run(ctx, tasks...)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return PhaseError{Phase: phase, Cause: err}
		}
		return nil
	case <-ctx.Done():
		return PhaseError{Phase: phase, Cause: ctx.Err()}
	}
}
