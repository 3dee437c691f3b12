package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tools.zach/dev/workerhost/internal/config"
	"tools.zach/dev/workerhost/internal/host"
	"tools.zach/dev/workerhost/internal/inbox"
	"tools.zach/dev/workerhost/internal/lifecycle"
)

// ///////////////////////////////////////////////
// resolveVersion Tests
// ///////////////////////////////////////////////

func TestResolveVersionWithLdflags(t *testing.T) {
	original := version
	defer func() { version = original }()

	version = "1.2.3"
	if got := resolveVersion(); got != "1.2.3" {
		t.Errorf("resolveVersion() = %q, want %q", got, "1.2.3")
	}
}

func TestResolveVersionDev(t *testing.T) {
	original := version
	defer func() { version = original }()

	version = "dev"
	// Test binaries may or may not carry VCS info.
	if got := resolveVersion(); !strings.HasPrefix(got, "dev") {
		t.Errorf("resolveVersion() = %q, expected to start with 'dev'", got)
	}
}

func TestDefaultDataDir(t *testing.T) {
	dir := defaultDataDir()
	if !strings.HasSuffix(dir, ".workerhost") {
		t.Errorf("defaultDataDir() = %q, want path ending in .workerhost", dir)
	}
}

// ///////////////////////////////////////////////
// PID Tests
// ///////////////////////////////////////////////

func TestPidToken(t *testing.T) {
	a, b := pidToken(), pidToken()
	if a == b {
		t.Errorf("pidToken() returned the same value twice: %q", a)
	}
	if len(a) != 16 {
		t.Errorf("pidToken() length = %d, want 16", len(a))
	}
}

func TestWritePID_FileContainsPID(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	token := pidToken()

	f, err := writePID(dp, token)
	if err != nil {
		t.Fatalf("writePID() error: %v", err)
	}
	defer func() {
		_ = unlockFile(f)
		f.Close()
	}()

	// Read through the open handle; on Windows the lock blocks os.ReadFile.
	if _, err := f.Seek(0, 0); err != nil {
		t.Fatalf("Seek() error: %v", err)
	}
	data := make([]byte, 256)
	n, err := f.Read(data)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if want := fmt.Sprintf("%d:%s", os.Getpid(), token); string(data[:n]) != want {
		t.Errorf("PID file content = %q, want %q", string(data[:n]), want)
	}
}

func TestRemovePID(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		wantGone bool
	}{
		{"matching token", "", true},
		{"mismatched token", "wrong-token", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dp := DataPaths{Root: t.TempDir()}
			token := pidToken()
			f, err := writePID(dp, token)
			if err != nil {
				t.Fatalf("writePID() error: %v", err)
			}
			remove := tt.token
			if remove == "" {
				remove = token
			}
			removePID(dp, remove, f)

			_, statErr := os.Stat(dp.PID())
			if gone := os.IsNotExist(statErr); gone != tt.wantGone {
				t.Errorf("PID file removed = %v, want %v", gone, tt.wantGone)
			}
		})
	}
}

func TestRemovePID_NilFile(t *testing.T) {
	removePID(DataPaths{Root: t.TempDir()}, "any-token", nil)
}

func TestCheckStalePID(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		if alive, pid := checkStalePID(DataPaths{Root: t.TempDir()}); alive || pid != 0 {
			t.Errorf("checkStalePID() = %v, %d; want false, 0", alive, pid)
		}
	})

	t.Run("stale file removed", func(t *testing.T) {
		dp := DataPaths{Root: t.TempDir()}
		if err := os.WriteFile(dp.PID(), []byte("99999:staletoken"), 0o600); err != nil {
			t.Fatal(err)
		}
		if alive, _ := checkStalePID(dp); alive {
			t.Error("checkStalePID() returned alive=true for stale PID")
		}
		if _, err := os.Stat(dp.PID()); !os.IsNotExist(err) {
			t.Error("stale PID file should have been removed")
		}
	})
}

// ///////////////////////////////////////////////
// Config Seeding
// ///////////////////////////////////////////////

func TestSeedConfig(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	if err := seedConfig(dp); err != nil {
		t.Fatalf("seedConfig: %v", err)
	}
	cfg, err := config.Load(dp.Root)
	if err != nil {
		t.Fatalf("Load seeded config: %v", err)
	}
	if cfg.Fetch.Listen != config.DefaultConfig().Fetch.Listen {
		t.Errorf("seeded Listen = %q", cfg.Fetch.Listen)
	}

	// An existing file is left alone.
	if err := os.WriteFile(dp.Config(), []byte("version = 1\n[push]\nenabled = false\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := seedConfig(dp); err != nil {
		t.Fatalf("seedConfig: %v", err)
	}
	cfg, _ = config.Load(dp.Root)
	if cfg.Push.Enabled {
		t.Error("seedConfig overwrote an existing config")
	}
}

// ///////////////////////////////////////////////
// Client Commands
// ///////////////////////////////////////////////

func TestEmitEvent(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}

	path, err := emitEvent(dp, "push", `{"data":"hi"}`)
	if err != nil {
		t.Fatalf("emitEvent: %v", err)
	}
	if filepath.Dir(path) != dp.Inbox() {
		t.Errorf("event dropped in %s, want %s", filepath.Dir(path), dp.Inbox())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	ev, err := inbox.Parse(path, raw)
	if err != nil {
		t.Fatalf("inbox.Parse: %v", err)
	}
	if ev.Type != lifecycle.Push || ev.String() != `{data:"hi"}` {
		t.Errorf("dropped %s %s", ev.Type, ev.String())
	}
}

func TestEmitEventErrors(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		data    string
		wantErr error
	}{
		{"lifecycle type", "install", "{}", host.ErrLifecycleSignal},
		{"unknown type", "sync", "{}", lifecycle.ErrUnknownSignal},
		{"bad json", "fetch", "{url:", nil},
		{"non-object data", "push", `"hi"`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dp := DataPaths{Root: t.TempDir()}
			_, err := emitEvent(dp, tt.typ, tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if entries, _ := os.ReadDir(dp.Inbox()); len(entries) != 0 {
				t.Errorf("inbox has %d files after a failed emit", len(entries))
			}
		})
	}
}

func TestPrintLogs(t *testing.T) {
	dp := DataPaths{Root: t.TempDir()}
	lines := "one\ntwo\nthree\n"
	if err := os.WriteFile(dp.Log(), []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := printLogs(&buf, dp, 2); err != nil {
		t.Fatalf("printLogs: %v", err)
	}
	if buf.String() != "two\nthree\n" {
		t.Errorf("printLogs = %q", buf.String())
	}
}

func TestPrintLogsMissingFile(t *testing.T) {
	if err := printLogs(&bytes.Buffer{}, DataPaths{Root: t.TempDir()}, 5); err == nil {
		t.Fatal("expected error for missing log file")
	}
}
