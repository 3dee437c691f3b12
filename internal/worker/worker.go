// Package worker is the Event Logger: a worker with four independent,
// stateless listeners that each write one diagnostic line per event.
//
// The listeners never answer, extend, or modify an event, so the host's
// default behavior for every signal is left untouched.
package worker

import (
	"log/slog"

	"tools.zach/dev/workerhost/internal/lifecycle"
)

// messages maps each signal to the diagnostic message its listener emits.
var messages = map[lifecycle.Signal]string{
	lifecycle.Install:  "service worker: install",
	lifecycle.Activate: "service worker: activate",
	lifecycle.Fetch:    "service worker: fetch",
	lifecycle.Push:     "service worker: push",
}

// Handlers returns one listener per known signal, each logging to log.
// A nil log uses [slog.Default] at call time.
func Handlers(log *slog.Logger) map[lifecycle.Signal]lifecycle.Handler {
	hs := make(map[lifecycle.Signal]lifecycle.Handler, len(messages))
	for sig, msg := range messages {
		hs[sig] = logEvent(log, sig, msg)
	}
	return hs
}

// Load registers the Event Logger's listeners on s.
func Load(s lifecycle.Surface, log *slog.Logger) {
	lifecycle.Register(s, Handlers(log))
}

func logEvent(log *slog.Logger, sig lifecycle.Signal, msg string) lifecycle.Handler {
	return func(ev *lifecycle.Event) {
		l := log
		if l == nil {
			l = slog.Default()
		}
		l.Info(msg, "signal", sig.String(), "event", ev.String())
	}
}
