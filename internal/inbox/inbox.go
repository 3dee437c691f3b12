// Package inbox delivers events dropped as files into a watched directory.
//
// Tools that cannot reach the push socket write `*.event.json` or
// `*.event.yaml` files holding a type and a data object. The watcher reads
// each file once, removes it, and delivers the decoded event to the worker.
// fsnotify drives the watcher; it falls back to directory polling when
// native notifications are unavailable.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"tools.zach/dev/workerhost/internal/host"
	"tools.zach/dev/workerhost/internal/lifecycle"
	"tools.zach/dev/workerhost/internal/paths"
)

var (
	// ErrNotEventFile is returned by [Parse] for names without an event suffix.
	ErrNotEventFile = errors.New("not an event file")
	// ErrMissingType is returned by [Parse] when the type field is empty.
	ErrMissingType = errors.New("event file has no type")
)

// Deliverer hands an event to the worker and waits for dispatch.
type Deliverer interface {
	Deliver(ctx context.Context, ev *lifecycle.Event) (host.Result, error)
}

// ///////////////////////////////////////////////
// Event Files
// ///////////////////////////////////////////////

// envelope is the on-disk shape of a dropped event.
type envelope struct {
	Type string         `json:"type" yaml:"type"`
	Data map[string]any `json:"data" yaml:"data"`
}

// IsEventFile reports whether name carries one of the event file suffixes.
func IsEventFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, paths.EventExtJSON) || strings.HasSuffix(base, paths.EventExtYAML)
}

// Parse decodes raw as an event file, choosing the format from name.
// Lifecycle types are rejected with [host.ErrLifecycleSignal].
func Parse(name string, raw []byte) (*lifecycle.Event, error) {
	var env envelope
	switch base := filepath.Base(name); {
	case strings.HasSuffix(base, paths.EventExtJSON):
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	case strings.HasSuffix(base, paths.EventExtYAML):
		if err := yaml.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotEventFile, base)
	}

	if strings.TrimSpace(env.Type) == "" {
		return nil, ErrMissingType
	}
	sig, err := lifecycle.ParseSignal(env.Type)
	if err != nil {
		return nil, err
	}
	if sig.IsLifecycle() {
		return nil, fmt.Errorf("%w: %s", host.ErrLifecycleSignal, sig)
	}
	return lifecycle.NewEvent(sig, env.Data), nil
}

// Encode renders an event file body in JSON for [atomicfile.Drop].
func Encode(sig lifecycle.Signal, data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(envelope{Type: sig.String(), Data: data})
}

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// Watcher monitors an inbox directory and delivers every event file it finds.
type Watcher struct {
	// dir is the inbox directory.
	dir string
	// deliver receives decoded events.
	deliver Deliverer
	// pollInterval is the scan interval in polling mode.
	pollInterval time.Duration
	// polling is true once the watcher has fallen back to scanning.
	polling atomic.Bool
	// delivered counts events handed to deliver.
	delivered atomic.Int64
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPollInterval sets the scan interval used without fsnotify.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithPolling starts the watcher in polling mode.
func WithPolling() Option {
	return func(w *Watcher) { w.polling.Store(true) }
}

// NewWatcher creates a Watcher for dir, creating the directory if needed.
func NewWatcher(dir string, d Deliverer, opts ...Option) (*Watcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create inbox dir: %w", err)
	}
	w := &Watcher{dir: dir, deliver: d, pollInterval: 2 * time.Second}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Polling reports whether the watcher is scanning instead of using fsnotify.
func (w *Watcher) Polling() bool { return w.polling.Load() }

// Delivered reports how many events have been handed to the worker.
func (w *Watcher) Delivered() int64 { return w.delivered.Load() }

// Run drains files already present, then watches until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	var fsw *fsnotify.Watcher
	if !w.polling.Load() {
		fsw = w.openNotify()
	}
	if fsw != nil {
		defer func() {
			if fsw != nil {
				fsw.Close()
			}
		}()
	}
	slog.Info("inbox watcher started", "dir", w.dir, "polling", w.polling.Load())

	w.Scan(ctx)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		var events chan fsnotify.Event
		var errs chan error
		if fsw != nil {
			events, errs = fsw.Events, fsw.Errors
		}

		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				fsw = w.fallBack(fsw, errors.New("event channel closed"))
				continue
			}
			if (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) && IsEventFile(event.Name) {
				w.Scan(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				err = errors.New("error channel closed")
			}
			fsw = w.fallBack(fsw, err)
		case <-ticker.C:
			if w.polling.Load() {
				w.Scan(ctx)
			}
		}
	}
}

// openNotify returns an fsnotify watcher on dir, or nil after switching to
// polling.
func (w *Watcher) openNotify() *fsnotify.Watcher {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Info("fsnotify unavailable, falling back to inbox polling", "error", err)
		w.polling.Store(true)
		return nil
	}
	if err := fsw.Add(w.dir); err != nil {
		slog.Info("cannot watch inbox, falling back to polling", "dir", w.dir, "error", err)
		fsw.Close()
		w.polling.Store(true)
		return nil
	}
	return fsw
}

func (w *Watcher) fallBack(fsw *fsnotify.Watcher, err error) *fsnotify.Watcher {
	slog.Info("fsnotify error, switching to inbox polling", "error", err)
	if fsw != nil {
		fsw.Close()
	}
	w.polling.Store(true)
	return nil
}

// Scan processes every event file currently in the inbox, oldest name first.
// It returns the number of events delivered.
func (w *Watcher) Scan(ctx context.Context) int {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		slog.Warn("read inbox", "dir", w.dir, "error", err)
		return 0
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && IsEventFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	n := 0
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		if w.process(ctx, filepath.Join(w.dir, name)) {
			n++
		}
	}
	return n
}

// process reads, removes, and delivers one event file.
func (w *Watcher) process(ctx context.Context, path string) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("read event file", "path", path, "error", err)
		}
		return false
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("remove event file", "path", path, "error", err)
		return false
	}

	ev, err := Parse(path, raw)
	if err != nil {
		slog.Warn("event file dropped", "file", filepath.Base(path), "error", err)
		return false
	}

	res, err := w.deliver.Deliver(ctx, ev)
	if err != nil {
		slog.Warn("inbox event not delivered", "signal", ev.Type.String(), "error", err)
		return false
	}
	w.delivered.Add(1)
	if res.Err != nil {
		slog.Warn("inbox event listeners failed", "signal", ev.Type.String(), "error", res.Err)
	}
	if res.Response != nil {
		slog.Debug("inbox fetch answered", "status", res.Response.Status)
	}
	slog.Debug("inbox event delivered", "signal", ev.Type.String(), "listeners", res.Listeners)
	return true
}
