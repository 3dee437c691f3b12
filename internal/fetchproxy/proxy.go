// Package fetchproxy intercepts HTTP requests and delivers them to the worker
// as fetch events.
//
// When no listener answers an event the host falls back to its default
// network behavior: the request is forwarded to the configured upstream
// through a retrying client and the upstream response is relayed unchanged.
package fetchproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"tools.zach/dev/workerhost/internal/host"
	"tools.zach/dev/workerhost/internal/lifecycle"
)

// maxBodyBytes caps request bodies buffered for upstream retries.
const maxBodyBytes = 10 << 20

// idempotent lists the methods the upstream client may retry.
var idempotent = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodOptions: true,
	http.MethodPut: true, http.MethodDelete: true,
}

// methodKey carries the request method to [retryIdempotent].
type methodKey struct{}

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Deliverer hands an event to the worker and waits for dispatch.
type Deliverer interface {
	Deliver(ctx context.Context, ev *lifecycle.Event) (host.Result, error)
}

// Options configures a [Server].
type Options struct {
	// InScope selects the request paths dispatched to the worker. Nil means all.
	InScope func(path string) bool
	// Upstream is the base URL for the network fallback. Empty answers 502.
	Upstream string
	// RetryMax is the number of upstream retries.
	RetryMax int
	// Timeout bounds each upstream attempt.
	Timeout time.Duration
}

// Server is an http.Handler that turns requests into fetch events.
type Server struct {
	deliver  Deliverer
	inScope  func(string) bool
	upstream *url.URL
	client   *retryablehttp.Client
}

// New builds a Server delivering to d.
func New(d Deliverer, opts Options) (*Server, error) {
	s := &Server{deliver: d, inScope: opts.InScope}
	if opts.Upstream != "" {
		u, err := url.Parse(opts.Upstream)
		if err != nil {
			return nil, fmt.Errorf("parse upstream: %w", err)
		}
		s.upstream = u
	}

	c := retryablehttp.NewClient()
	c.RetryMax = opts.RetryMax
	if opts.Timeout > 0 {
		c.HTTPClient.Timeout = opts.Timeout
	}
	c.RetryWaitMin = 100 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.Logger = slog.Default().With("component", "upstream")
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.CheckRetry = retryIdempotent
	s.client = c
	return s, nil
}

// ServeHTTP dispatches in-scope requests, then answers with the listener's
// response or the network fallback.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBodyBytes {
		slog.Warn("request body too large", "url", r.URL.RequestURI(), "limit_bytes", maxBodyBytes)
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	if s.inScope == nil || s.inScope(r.URL.Path) {
		if resp := s.dispatch(r); resp != nil {
			writeResponse(w, resp)
			return
		}
	} else {
		slog.Debug("request outside scope", "path", r.URL.Path)
	}

	s.forward(w, r, body)
}

// dispatch delivers r as a fetch event and returns a listener's response, if any.
func (s *Server) dispatch(r *http.Request) *lifecycle.Response {
	data := map[string]any{
		"method": r.Method,
		"url":    r.URL.RequestURI(),
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		data["mode"] = "navigate"
	}

	res, err := s.deliver.Deliver(r.Context(), lifecycle.NewEvent(lifecycle.Fetch, data))
	if err != nil {
		slog.Warn("fetch event not delivered", "url", data["url"], "error", err)
		return nil
	}
	if res.Err != nil {
		slog.Warn("fetch listeners failed", "url", data["url"], "error", res.Err)
	}
	return res.Response
}

// forward performs the host's default network fetch.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, body []byte) {
	if s.upstream == nil {
		http.Error(w, "no upstream configured", http.StatusBadGateway)
		return
	}

	target := s.upstream.ResolveReference(&url.URL{Path: singleJoin(s.upstream.Path, r.URL.Path), RawQuery: r.URL.RawQuery})
	ctx := context.WithValue(r.Context(), methodKey{}, r.Method)
	req, err := retryablehttp.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		http.Error(w, "build upstream request", http.StatusInternalServerError)
		return
	}
	copyHeader(req.Header, r.Header)
	if clientIP, _, splitErr := net.SplitHostPort(r.RemoteAddr); splitErr == nil {
		req.Header.Add("X-Forwarded-For", clientIP)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.Warn("upstream fetch failed", "url", target.String(), "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Debug("relay upstream body", "error", err)
	}
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// within five seconds.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled. Request contexts
// derive from ctx, so requests still waiting on the worker end with it.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("fetch listener started", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

// retryIdempotent applies the default retry policy to idempotent methods and
// never retries the rest, so a POST reaches the upstream at most once.
func retryIdempotent(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if method, _ := ctx.Value(methodKey{}).(string); !idempotent[method] {
		return false, ctx.Err()
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func writeResponse(w http.ResponseWriter, r *lifecycle.Response) {
	copyHeader(w.Header(), r.Header)
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(r.Body)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		if isHopHeader(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(k string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(k, h) {
			return true
		}
	}
	return false
}

// singleJoin joins two URL paths with exactly one slash between them.
func singleJoin(a, b string) string {
	switch {
	case a == "":
		return b
	case strings.HasSuffix(a, "/") && strings.HasPrefix(b, "/"):
		return a + b[1:]
	case !strings.HasSuffix(a, "/") && !strings.HasPrefix(b, "/"):
		return a + "/" + b
	}
	return a + b
}
