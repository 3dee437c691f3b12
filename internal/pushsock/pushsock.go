// Package pushsock accepts push messages over a local stream endpoint: a Unix
// domain socket, or a named pipe on Windows.
//
// The protocol is line based. Each non-empty line a client writes becomes one
// push event whose data field holds the line. The server answers every line
// with "ok" or "error: <reason>" so senders learn whether dispatch ran.
package pushsock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"tools.zach/dev/workerhost/internal/host"
	"tools.zach/dev/workerhost/internal/lifecycle"
)

// maxLineBytes bounds a single push message.
const maxLineBytes = 64 << 10

// dialTimeout bounds how long [Send] waits to reach the daemon.
const dialTimeout = 2 * time.Second

// ErrRejected is returned by [Send] when the daemon reports a failed delivery.
var ErrRejected = errors.New("push rejected")

// Deliverer hands an event to the worker and waits for dispatch.
type Deliverer interface {
	Deliver(ctx context.Context, ev *lifecycle.Event) (host.Result, error)
}

// ///////////////////////////////////////////////
// Server
// ///////////////////////////////////////////////

// Server reads push lines from accepted connections.
type Server struct {
	deliver Deliverer
	wg      sync.WaitGroup
}

// NewServer creates a Server delivering to d.
func NewServer(d Deliverer) *Server {
	return &Server{deliver: d}
}

// ListenAndServe opens endpoint and serves until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, endpoint string) error {
	ln, err := Listen(endpoint)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled. It closes ln and
// waits for open connections to finish before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	slog.Info("push listener started", "endpoint", ln.Addr().String())

	defer s.wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// handle delivers each line of conn as a push event.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		reply := "ok"
		if err := s.push(ctx, line); err != nil {
			reply = "error: " + err.Error()
		}
		if _, err := fmt.Fprintln(conn, reply); err != nil {
			slog.Debug("push reply failed", "error", err)
			return
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		slog.Warn("push connection read failed", "error", err)
	}
}

func (s *Server) push(ctx context.Context, line string) error {
	ev := lifecycle.NewEvent(lifecycle.Push, map[string]any{"data": line})
	res, err := s.deliver.Deliver(ctx, ev)
	if err != nil {
		slog.Warn("push event not delivered", "error", err)
		return err
	}
	slog.Debug("push delivered", "listeners", res.Listeners)
	return res.Err
}

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// Send writes each message to the daemon at endpoint and waits for its
// acknowledgement. Messages must not contain newlines.
func Send(endpoint string, messages ...string) error {
	conn, err := dial(endpoint, dialTimeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", endpoint, err)
	}
	defer conn.Close()

	r := bufio.NewReader(conn)
	for _, msg := range messages {
		if strings.ContainsAny(msg, "\r\n") {
			return errors.New("push message contains a line break")
		}
		if strings.TrimSpace(msg) == "" {
			continue
		}
		if _, err := fmt.Fprintln(conn, msg); err != nil {
			return fmt.Errorf("write push: %w", err)
		}
		reply, err := r.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read reply: %w", err)
		}
		reply = strings.TrimSpace(reply)
		if reply != "ok" {
			return fmt.Errorf("%w: %s", ErrRejected, strings.TrimPrefix(reply, "error: "))
		}
	}
	return nil
}
