package lifecycle

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

var (
	// ErrAlreadyResponded is returned when RespondWith is called twice.
	ErrAlreadyResponded = errors.New("event already has a response")
	// ErrNotRespondable is returned when RespondWith is called on a non-fetch event.
	ErrNotRespondable = errors.New("only fetch events accept a response")
)

// ///////////////////////////////////////////////
// Event
// ///////////////////////////////////////////////

// Response is a substitute answer a fetch listener may hand back to the host.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Event is the transient value the host passes into each listener. Data is
// read-only for listeners. The response and extension slots belong to the
// host: listeners may fill them, and the host inspects them after dispatch.
type Event struct {
	// Type is the signal this event was delivered for.
	Type Signal
	// Data carries signal-specific fields such as a fetch URL or push payload.
	Data map[string]any

	mu       sync.Mutex
	response *Response
	extends  []func() error
}

// NewEvent builds an event for sig. A nil data map is replaced with an empty one.
func NewEvent(sig Signal, data map[string]any) *Event {
	if data == nil {
		data = map[string]any{}
	}
	return &Event{Type: sig, Data: data}
}

// RespondWith records r as the answer to a fetch event.
func (e *Event) RespondWith(r *Response) error {
	if e.Type != Fetch {
		return ErrNotRespondable
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.response != nil {
		return ErrAlreadyResponded
	}
	e.response = r
	return nil
}

// WaitUntil asks the host to run fn before it treats the event as settled.
func (e *Event) WaitUntil(fn func() error) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.extends = append(e.extends, fn)
	e.mu.Unlock()
}

// Responded returns the response a listener recorded, if any.
func (e *Event) Responded() (*Response, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.response, e.response != nil
}

// Extensions returns the work registered through WaitUntil.
func (e *Event) Extensions() []func() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]func() error(nil), e.extends...)
}

// String renders Data as {key:value, ...} with keys sorted and strings quoted,
// for example {url:"/x"}. Nested maps are rendered the same way.
func (e *Event) String() string {
	if e == nil {
		return "<nil>"
	}
	return formatMap(e.Data)
}

func formatMap(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(formatValue(m[k]))
	}
	b.WriteByte('}')
	return b.String()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case map[string]any:
		return formatMap(x)
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", x)
	}
}
