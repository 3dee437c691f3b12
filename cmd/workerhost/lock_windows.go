// Windows file locking for the daemon PID file.
//
// Built only on Windows. LockFileEx from [golang.org/x/sys/windows] plays the
// role flock(2) plays on Unix: the daemon keeps an exclusive lock on the PID
// file while it runs, and LOCKFILE_FAIL_IMMEDIATELY gives the same
// non-blocking probe as LOCK_NB.

//go:build windows

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// ///////////////////////////////////////////////
// File Locking
// ///////////////////////////////////////////////

// lockFile takes an exclusive LockFileEx lock on f, failing immediately when
// another daemon holds it. Only one byte at offset 0 is locked; the lock is a
// mutual-exclusion marker and guards no data.
func lockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	err := windows.LockFileEx(windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, ol)
	if err != nil {
		return fmt.Errorf("lock file %s: %w", f.Name(), err)
	}
	return nil
}

// unlockFile releases the byte range locked by lockFile via UnlockFileEx.
// Closing the handle also releases it.
func unlockFile(f *os.File) error {
	ol := new(windows.Overlapped)
	if err := windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, ol); err != nil {
		return fmt.Errorf("unlock file %s: %w", f.Name(), err)
	}
	return nil
}
