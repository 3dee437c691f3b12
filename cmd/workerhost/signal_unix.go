// Unix signal handling for graceful daemon shutdown.
//
// Built on every non-Windows platform. The daemon stops on SIGINT (Ctrl+C)
// and on SIGTERM, which service managers such as systemd and launchd send to
// request a clean stop. Shutdown cancels the serve context, which closes the
// fetch listener, the push socket and the inbox watcher.

//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// ///////////////////////////////////////////////
// Signal Handling
// ///////////////////////////////////////////////

// signalChannel returns a channel receiving SIGINT and SIGTERM. It is
// buffered by one so a signal is not lost while main is still starting.
func signalChannel() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch
}
