package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"tools.zach/dev/workerhost/internal/lifecycle"
	"tools.zach/dev/workerhost/internal/logger"
)

// ///////////////////////////////////////////////
// Lifecycle State
// ///////////////////////////////////////////////

// State is the worker's position in the host lifecycle.
type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

var stateNames = [...]string{"parsed", "installing", "installed", "activating", "activated", "redundant"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

var (
	// ErrNotActivated is returned by [Runtime.Deliver] before activation completes.
	ErrNotActivated = errors.New("worker is not activated")
	// ErrLifecycleSignal is returned when install or activate is delivered from outside.
	ErrLifecycleSignal = errors.New("lifecycle signals are driven by the host")
	// ErrAlreadyStarted is returned by a second call to [Runtime.Start].
	ErrAlreadyStarted = errors.New("runtime already started")
	// ErrInstallFailed wraps the failure that made a worker redundant during install.
	ErrInstallFailed = errors.New("install failed")
)

// ///////////////////////////////////////////////
// Runtime
// ///////////////////////////////////////////////

// Result describes one completed dispatch.
type Result struct {
	// Listeners is how many listeners ran.
	Listeners int
	// Response is the answer a fetch listener recorded, or nil.
	Response *lifecycle.Response
	// Err joins listener failures and extension failures.
	Err error
}

type delivery struct {
	ev    *lifecycle.Event
	reply chan Result
}

// Loader attaches a worker's listeners to the host surface.
type Loader func(s lifecycle.Surface)

// Runtime drives one worker. Lifecycle signals run during [Runtime.Start];
// functional events are queued by [Runtime.Deliver] and dispatched one at a
// time by [Runtime.Run], so listeners never run concurrently.
type Runtime struct {
	surface *Dispatcher
	load    Loader
	state   atomic.Int32
	started atomic.Bool
	queue   chan delivery
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithQueueSize sets how many functional events may wait for the loop.
func WithQueueSize(n int) Option {
	return func(r *Runtime) {
		if n >= 0 {
			r.queue = make(chan delivery, n)
		}
	}
}

// NewRuntime creates a Runtime that will load its worker with load.
func NewRuntime(load Loader, opts ...Option) *Runtime {
	r := &Runtime{
		surface: NewDispatcher(),
		load:    load,
		queue:   make(chan delivery, 16),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State reports the current lifecycle state.
func (r *Runtime) State() State { return State(r.state.Load()) }

func (r *Runtime) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	slog.Debug("worker state changed", "from", prev.String(), "to", s.String())
}

// Start loads the worker, then dispatches install and activate once each.
// A failing install leaves the worker redundant. Activate failures are
// logged and do not block activation.
func (r *Runtime) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if r.load != nil {
		r.load(r.surface)
	}

	r.setState(StateInstalling)
	res := r.dispatch(ctx, lifecycle.NewEvent(lifecycle.Install, nil))
	if res.Err != nil {
		r.setState(StateRedundant)
		logger.Fail(slog.Default(), "worker install failed", "error", res.Err)
		return fmt.Errorf("%w: %w", ErrInstallFailed, res.Err)
	}
	r.setState(StateInstalled)

	if err := ctx.Err(); err != nil {
		return err
	}

	r.setState(StateActivating)
	res = r.dispatch(ctx, lifecycle.NewEvent(lifecycle.Activate, nil))
	if res.Err != nil {
		slog.Warn("activate listener failed", "error", res.Err)
	}
	r.setState(StateActivated)
	slog.Info("worker activated", "listeners", r.surface.total())
	return nil
}

// Deliver queues a functional event and waits until it has been dispatched.
func (r *Runtime) Deliver(ctx context.Context, ev *lifecycle.Event) (Result, error) {
	if ev.Type.IsLifecycle() {
		return Result{}, fmt.Errorf("%w: %s", ErrLifecycleSignal, ev.Type)
	}
	if r.State() != StateActivated {
		return Result{}, ErrNotActivated
	}

	d := delivery{ev: ev, reply: make(chan Result, 1)}
	select {
	case r.queue <- d:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-d.reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Run dispatches queued events until ctx is canceled.
func (r *Runtime) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-r.queue:
			d.reply <- r.dispatch(ctx, d.ev)
		}
	}
}

// dispatch runs listeners for ev, then settles any WaitUntil work.
func (r *Runtime) dispatch(ctx context.Context, ev *lifecycle.Event) Result {
	n, err := r.surface.Dispatch(ev)
	errs := []error{err}
	for _, fn := range ev.Extensions() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if extErr := fn(); extErr != nil {
			slog.Warn("event extension failed", "signal", ev.Type.String(), "error", extErr)
			errs = append(errs, extErr)
		}
	}
	resp, _ := ev.Responded()
	return Result{Listeners: n, Response: resp, Err: errors.Join(errs...)}
}

// total counts listeners across all signals.
func (d *Dispatcher) total() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, list := range d.listeners {
		n += len(list)
	}
	return n
}
