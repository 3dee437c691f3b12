// Windows signal handling for graceful daemon shutdown.
//
// Built only on Windows, which has no SIGTERM. Only [os.Interrupt] is
// registered; the Go runtime delivers Ctrl+C, Ctrl+Break and console close
// as Interrupt.

//go:build windows

package main

import (
	"os"
	"os/signal"
)

// ///////////////////////////////////////////////
// Signal Handling
// ///////////////////////////////////////////////

// signalChannel returns a channel receiving os.Interrupt, buffered by one so
// a signal is not lost while main is still starting.
func signalChannel() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	return ch
}
