// Unix file locking for the daemon PID file.
//
// Built on every non-Windows platform (Linux, macOS, *BSD). The daemon holds
// an exclusive advisory lock from [syscall.Flock] for its whole lifetime, so a
// second instance, or checkStalePID, can tell a live daemon from a file left
// behind by a crash: the kernel drops the lock when the process exits.

//go:build !windows

package main

import (
	"fmt"
	"os"
	"syscall"
)

// ///////////////////////////////////////////////
// File Locking
// ///////////////////////////////////////////////

// lockFile takes an exclusive, non-blocking flock(2) on f. With LOCK_NB the
// call fails at once with EWOULDBLOCK when another daemon holds the lock,
// which is how a running instance is detected.
func lockFile(f *os.File) error {
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return fmt.Errorf("lock file %s: %w", f.Name(), err)
	}
	return nil
}

// unlockFile releases the flock held on f. Closing the descriptor also
// releases it.
func unlockFile(f *os.File) error {
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("unlock file %s: %w", f.Name(), err)
	}
	return nil
}
