// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import (
	"path/filepath"
	"runtime"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile    = "workerhost.pid"
	ConfigFile = "config.toml"
	LogFile    = "workerhost.log"
	InboxDir   = "inbox"
	SocketFile = "push.sock"
)

// Inbox event file suffixes.
const (
	EventExtJSON = ".event.json"
	EventExtYAML = ".event.yaml"
)

const (
	BinaryName = "workerhost"
	DataDirRel = ".workerhost" // relative to $HOME
	// PipeName is the default push endpoint on Windows.
	PipeName = `\\.\pipe\workerhost-push`
)

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }

// Inbox returns the full path to the event drop directory.
func (d DataDir) Inbox() string { return filepath.Join(d.Root, InboxDir) }

// Socket returns the default push endpoint: a socket file in the data
// directory, or the named pipe on Windows.
func (d DataDir) Socket() string {
	if runtime.GOOS == "windows" {
		return PipeName
	}
	return filepath.Join(d.Root, SocketFile)
}
