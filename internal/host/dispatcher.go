// Package host implements the worker host: the dispatch surface a worker
// registers on, and the runtime that drives the install/activate lifecycle
// and serializes functional events onto a single event loop.
package host

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"tools.zach/dev/workerhost/internal/lifecycle"
	"tools.zach/dev/workerhost/internal/logger"
)

// ///////////////////////////////////////////////
// Errors
// ///////////////////////////////////////////////

// ErrHandlerPanic marks a listener that panicked during dispatch.
var ErrHandlerPanic = errors.New("listener panicked")

// HandlerError reports an uncaught failure raised by a listener. The host
// treats it the way a browser treats an uncaught exception in a worker: it
// is logged and the remaining listeners still run.
type HandlerError struct {
	// Signal is the signal that was being dispatched.
	Signal lifecycle.Signal
	// Index is the listener's position in registration order.
	Index int
	// Value is the recovered panic value.
	Value any
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s listener %d: %v", e.Signal, e.Index, e.Value)
}

// Unwrap lets errors.Is match [ErrHandlerPanic].
func (e *HandlerError) Unwrap() error { return ErrHandlerPanic }

// ///////////////////////////////////////////////
// Dispatcher
// ///////////////////////////////////////////////

// Dispatcher is the host dispatch surface. Listeners are kept per signal in
// registration order and run synchronously on the dispatching goroutine.
type Dispatcher struct {
	// mu guards listeners; it is not held while listeners run.
	mu        sync.RWMutex
	listeners map[lifecycle.Signal][]lifecycle.Handler
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[lifecycle.Signal][]lifecycle.Handler)}
}

// AddEventListener appends h to the listeners for sig. Nil handlers are ignored.
func (d *Dispatcher) AddEventListener(sig lifecycle.Signal, h lifecycle.Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	d.listeners[sig] = append(d.listeners[sig], h)
	d.mu.Unlock()
	slog.Debug("listener registered", "signal", sig.String())
}

// Listeners reports how many listeners are registered for sig.
func (d *Dispatcher) Listeners(sig lifecycle.Signal) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[sig])
}

// Dispatch delivers ev to every listener registered for ev.Type and returns
// how many ran. Panics are recovered, logged, and joined into the returned
// error as [*HandlerError] values.
func (d *Dispatcher) Dispatch(ev *lifecycle.Event) (int, error) {
	d.mu.RLock()
	snapshot := append([]lifecycle.Handler(nil), d.listeners[ev.Type]...)
	d.mu.RUnlock()

	if len(snapshot) == 0 {
		slog.Debug("no listeners for signal", "signal", ev.Type.String())
		return 0, nil
	}

	var errs []error
	for i, h := range snapshot {
		if err := invoke(ev, i, h); err != nil {
			errs = append(errs, err)
		}
	}
	return len(snapshot), errors.Join(errs...)
}

// invoke runs one listener, converting a panic into a [*HandlerError].
func invoke(ev *lifecycle.Event, idx int, h lifecycle.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("uncaught error in listener",
				"signal", ev.Type.String(),
				"listener", idx,
				"error", r,
				"stack", string(debug.Stack()),
			)
			err = &HandlerError{Signal: ev.Type, Index: idx, Value: r}
		}
	}()
	logger.Trace(slog.Default(), "invoking listener", "signal", ev.Type.String(), "listener", idx)
	h(ev)
	return nil
}
