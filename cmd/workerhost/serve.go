package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tools.zach/dev/workerhost/internal/atomicfile"
	"tools.zach/dev/workerhost/internal/config"
	"tools.zach/dev/workerhost/internal/fetchproxy"
	"tools.zach/dev/workerhost/internal/host"
	"tools.zach/dev/workerhost/internal/inbox"
	"tools.zach/dev/workerhost/internal/lifecycle"
	"tools.zach/dev/workerhost/internal/paths"
	"tools.zach/dev/workerhost/internal/pushsock"
	"tools.zach/dev/workerhost/internal/worker"
)

// ///////////////////////////////////////////////
// Daemon
// ///////////////////////////////////////////////

// source is one long-running event producer.
type source struct {
	name string
	run  func(ctx context.Context) error
}

// loadWorker registers the event logger on the host surface.
func loadWorker(s lifecycle.Surface) { worker.Load(s, nil) }

// serve starts the worker and every enabled event source, then blocks until
// ctx is canceled or a source fails.
func serve(ctx context.Context, cfg *config.Config, dp DataPaths) error {
	rt := host.NewRuntime(loadWorker)
	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	sources, err := buildSources(cfg, dp, rt)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(sources))

	wg.Add(1)
	go func() {
		defer wg.Done()
		rt.Run(ctx)
	}()

	for _, src := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := src.run(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", src.name, err)
			}
		}()
	}
	slog.Info("event sources running", "count", len(sources))

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errCh:
	}
	cancel()
	wg.Wait()
	return err
}

// buildSources constructs the enabled event sources, all delivering to rt.
func buildSources(cfg *config.Config, dp DataPaths, rt *host.Runtime) ([]source, error) {
	var sources []source

	if cfg.Fetch.Enabled {
		srv, err := fetchproxy.New(rt, fetchproxy.Options{
			InScope:  cfg.InScope,
			Upstream: cfg.Fetch.Upstream,
			RetryMax: cfg.Fetch.RetryMax,
			Timeout:  time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch listener: %w", err)
		}
		addr := cfg.Fetch.Listen
		sources = append(sources, source{"fetch", func(ctx context.Context) error {
			return srv.ListenAndServe(ctx, addr)
		}})
	}

	if cfg.Push.Enabled {
		ps := pushsock.NewServer(rt)
		endpoint := cfg.SocketPath(dp)
		sources = append(sources, source{"push", func(ctx context.Context) error {
			return ps.ListenAndServe(ctx, endpoint)
		}})
	}

	if cfg.Inbox.Enabled {
		w, err := inbox.NewWatcher(dp.Inbox(), rt,
			inbox.WithPollInterval(time.Duration(cfg.Inbox.PollIntervalSeconds)*time.Second))
		if err != nil {
			return nil, fmt.Errorf("inbox: %w", err)
		}
		sources = append(sources, source{"inbox", w.Run})
	}

	return sources, nil
}

// ///////////////////////////////////////////////
// Client Commands
// ///////////////////////////////////////////////

// sendPush delivers text to the running daemon's push socket.
func sendPush(cfg *config.Config, dp DataPaths, text string) error {
	return pushsock.Send(cfg.SocketPath(dp), text)
}

// emitEvent drops an event file of type typ with JSON object data into the
// inbox and returns its path.
func emitEvent(dp DataPaths, typ, data string) (string, error) {
	sig, err := lifecycle.ParseSignal(typ)
	if err != nil {
		return "", err
	}
	if sig.IsLifecycle() {
		return "", fmt.Errorf("%w: %s", host.ErrLifecycleSignal, sig)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return "", fmt.Errorf("parse -data: %w", err)
	}
	raw, err := inbox.Encode(sig, payload)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	return atomicfile.Drop(dp.Inbox(), paths.EventExtJSON, raw)
}
