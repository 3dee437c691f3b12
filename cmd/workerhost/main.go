// Package main implements the workerhost daemon, which loads the event logger
// worker, drives its lifecycle, and feeds it fetch and push events from local
// sources.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"

	rootpkg "tools.zach/dev/workerhost"
	"tools.zach/dev/workerhost/internal/atomicfile"
	"tools.zach/dev/workerhost/internal/config"
	"tools.zach/dev/workerhost/internal/logger"
	"tools.zach/dev/workerhost/internal/paths"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - goreleaser: -X main.version={{.Version}}  -> "0.1.0"
//   - make build: -X main.version=$(VERSION)    -> "0.0.0-dev+05ffee5"
//
// When ldflags are not set, resolveVersion reads the VCS info that Go embeds
// automatically.
var version = "dev"

// resolveVersion returns the ldflags version, or "dev+<hash>" built from the
// embedded VCS revision and dirty state.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken generates a random 16-character hex token used to prove ownership
// of the PID file, so [removePID] only deletes the file if this instance wrote it.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID opens the PID file, takes an advisory lock on it, and writes
// "PID:TOKEN". The handle must stay open while the daemon runs.
func writePID(dp DataPaths, token string) (*os.File, error) {
	f, err := os.OpenFile(dp.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d:%s", os.Getpid(), token); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return f, nil
}

// removePID releases the lock and removes the PID file if it still carries token.
func removePID(dp DataPaths, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(dp.PID())
	if err != nil {
		return
	}
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) == 2 && parts[1] == token {
		os.Remove(dp.PID())
	}
}

// checkStalePID reports whether another daemon holds the PID lock. A file
// left by a dead instance is removed.
func checkStalePID(dp DataPaths) (alive bool, pid int) {
	f, err := os.OpenFile(dp.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}

	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(dp.PID())
		f.Close()
		parts := strings.SplitN(string(data), ":", 2)
		if p, convErr := strconv.Atoi(parts[0]); convErr == nil {
			return true, p
		}
		return true, 0
	}

	// Lock acquired -- previous instance is dead.
	_ = unlockFile(f)
	f.Close()
	os.Remove(dp.PID())
	return false, 0
}

// ///////////////////////////////////////////////
// Default Data Directory
// ///////////////////////////////////////////////

// defaultDataDir returns ~/.workerhost, or ./.workerhost when the home
// directory cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// seedConfig writes the embedded default config if none exists yet.
func seedConfig(dp DataPaths) error {
	if _, err := os.Stat(dp.Config()); !os.IsNotExist(err) {
		return nil
	}
	return atomicfile.Write(dp.Config(), rootpkg.DefaultConfigTOML, 0o644)
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "Data directory for config, inbox, socket, and logs")
	pushText := flag.String("push", "", "Send a push message to the running daemon and exit")
	emitType := flag.String("emit", "", "Drop an event of this type into the inbox and exit")
	emitData := flag.String("data", "{}", "JSON object used as the event data for -emit")
	logLines := flag.Int("logs", 0, "Print the last N lines of the daemon log and exit")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(resolveVersion())
		return
	}

	dp := DataPaths{Root: *dataDir}

	switch {
	case *logLines > 0:
		exitOn(printLogs(os.Stdout, dp, *logLines))
		return
	case *pushText != "":
		cfg, err := config.Load(dp.Root)
		exitOn(err)
		exitOn(sendPush(cfg, dp, *pushText))
		return
	case *emitType != "":
		path, err := emitEvent(dp, *emitType, *emitData)
		exitOn(err)
		fmt.Println(path)
		return
	}

	os.Exit(daemon(dp))
}

// daemon runs the long-lived process and returns its exit code.
func daemon(dp DataPaths) int {
	if err := os.MkdirAll(dp.Root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: create data dir: %v\n", err)
		return 1
	}

	if alive, pid := checkStalePID(dp); alive {
		fmt.Fprintf(os.Stderr, "daemon already running (pid %d)\n", pid)
		return 1
	}

	if err := seedConfig(dp); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", err)
	}

	cfg, err := config.Load(dp.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		return 1
	}

	opts := logger.Options{
		Path:      dp.Log(),
		Level:     logger.ParseLevel(cfg.Log.Level),
		MaxSizeMB: cfg.Log.MaxSizeMB,
	}
	if cfg.Log.Console {
		opts.Console = os.Stderr
	}
	log, logCloser, err := logger.NewLogger(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: init logger: %v\n", err)
		return 1
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("workerhost starting", "version", resolveVersion(), "data_dir", dp.Root)

	token := pidToken()
	pidFile, err := writePID(dp, token)
	if err != nil {
		slog.Error("failed to write PID file", "error", err)
		return 1
	}
	defer removePID(dp, token, pidFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-signalChannel()
		slog.Info("received shutdown signal")
		cancel()
	}()

	if err := serve(ctx, cfg, dp); err != nil {
		logger.Fail(slog.Default(), "daemon stopped", "error", err)
		return 1
	}
	slog.Info("workerhost stopped")
	return 0
}

// exitOn prints err and exits non-zero when err is set.
func exitOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// printLogs writes the last n daemon log lines to w.
func printLogs(w io.Writer, dp DataPaths, n int) error {
	tail, err := logger.ReadTail(dp.Log(), n)
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}
	if tail == "" {
		return nil
	}
	_, err = io.WriteString(w, tail+"\n")
	return err
}
