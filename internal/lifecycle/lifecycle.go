// Package lifecycle defines the signals, events, and registration surface
// shared by the worker host and the worker it loads.
//
// A worker never reaches for ambient global state: it is handed a [Surface]
// and attaches its listeners with [Register], one call per signal.
package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ///////////////////////////////////////////////
// Signals
// ///////////////////////////////////////////////

// Signal names a lifecycle or I/O event delivered by the host.
type Signal string

const (
	// Install fires once when the host first installs the worker.
	Install Signal = "install"
	// Activate fires once after a successful install.
	Activate Signal = "activate"
	// Fetch fires for every intercepted network request in scope.
	Fetch Signal = "fetch"
	// Push fires for every push message that reaches the host.
	Push Signal = "push"
)

// ErrUnknownSignal is returned by [ParseSignal] for names outside [Known].
var ErrUnknownSignal = errors.New("unknown signal")

// Known returns the four signals in lifecycle order.
func Known() []Signal {
	return []Signal{Install, Activate, Fetch, Push}
}

// ParseSignal converts a name to a [Signal], ignoring case and surrounding
// whitespace.
func ParseSignal(name string) (Signal, error) {
	s := Signal(strings.ToLower(strings.TrimSpace(name)))
	for _, k := range Known() {
		if s == k {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSignal, name)
}

// IsLifecycle reports whether s is driven by the host's own lifecycle
// (install, activate) rather than by outside input.
func (s Signal) IsLifecycle() bool {
	return s == Install || s == Activate
}

// String returns the signal name.
func (s Signal) String() string { return string(s) }

// ///////////////////////////////////////////////
// Registration
// ///////////////////////////////////////////////

// Handler reacts to one delivered event. Its return is not observed.
type Handler func(ev *Event)

// Surface is the host dispatch surface a worker registers against.
type Surface interface {
	AddEventListener(sig Signal, h Handler)
}

// Register attaches every entry of handlers to s, in lifecycle order for the
// known signals and then in name order for anything else. Nil handlers are
// skipped.
func Register(s Surface, handlers map[Signal]Handler) {
	seen := make(map[Signal]bool, len(handlers))
	for _, sig := range Known() {
		if h, ok := handlers[sig]; ok && h != nil {
			s.AddEventListener(sig, h)
		}
		seen[sig] = true
	}

	var rest []string
	for sig := range handlers {
		if !seen[sig] {
			rest = append(rest, string(sig))
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		if h := handlers[Signal(name)]; h != nil {
			s.AddEventListener(Signal(name), h)
		}
	}
}
