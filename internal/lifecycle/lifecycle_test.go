// Tests for signal parsing, [Register] ordering, event rendering, and the
// host-owned response slot.
package lifecycle

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

// ///////////////////////////////////////////////
// Signals
// ///////////////////////////////////////////////

func TestParseSignal(t *testing.T) {
	tests := []struct {
		in      string
		want    Signal
		wantErr bool
	}{
		{"install", Install, false},
		{"ACTIVATE", Activate, false},
		{"  fetch ", Fetch, false},
		{"Push", Push, false},
		{"sync", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSignal(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownSignal) {
					t.Fatalf("ParseSignal(%q) error = %v, want ErrUnknownSignal", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSignal(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseSignal(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsLifecycle(t *testing.T) {
	if !Install.IsLifecycle() || !Activate.IsLifecycle() {
		t.Error("install and activate should be lifecycle signals")
	}
	if Fetch.IsLifecycle() || Push.IsLifecycle() {
		t.Error("fetch and push should be functional signals")
	}
}

// ///////////////////////////////////////////////
// Register
// ///////////////////////////////////////////////

type recordingSurface struct {
	order []Signal
}

func (r *recordingSurface) AddEventListener(sig Signal, _ Handler) {
	r.order = append(r.order, sig)
}

func TestRegisterOrder(t *testing.T) {
	noop := func(*Event) {}
	s := &recordingSurface{}
	Register(s, map[Signal]Handler{
		"sync":   noop,
		Push:     noop,
		Install:  noop,
		Fetch:    noop,
		Activate: noop,
		"bogus":  nil,
	})

	want := []Signal{Install, Activate, Fetch, Push, "sync"}
	if len(s.order) != len(want) {
		t.Fatalf("registered %v, want %v", s.order, want)
	}
	for i := range want {
		if s.order[i] != want[i] {
			t.Errorf("registration %d = %q, want %q", i, s.order[i], want[i])
		}
	}
}

func TestRegisterEmptyMap(t *testing.T) {
	s := &recordingSurface{}
	Register(s, nil)
	if len(s.order) != 0 {
		t.Errorf("expected no registrations, got %v", s.order)
	}
}

// ///////////////////////////////////////////////
// Event Rendering
// ///////////////////////////////////////////////

func TestEventString(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
		want string
	}{
		{"empty", nil, "{}"},
		{"url", map[string]any{"url": "/x"}, `{url:"/x"}`},
		{"push data", map[string]any{"data": "hi"}, `{data:"hi"}`},
		{"sorted keys", map[string]any{"url": "/a", "method": "GET"}, `{method:"GET", url:"/a"}`},
		{"numbers and bools", map[string]any{"n": 3, "ok": true}, `{n:3, ok:true}`},
		{"nested", map[string]any{"req": map[string]any{"url": "/y"}}, `{req:{url:"/y"}}`},
		{"list", map[string]any{"tags": []any{"a", 1}}, `{tags:["a", 1]}`},
		{"null", map[string]any{"x": nil}, `{x:null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewEvent(Fetch, tt.data).String()
			if got != tt.want {
				t.Errorf("String() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEventStringNil(t *testing.T) {
	var ev *Event
	if got := ev.String(); got != "<nil>" {
		t.Errorf("nil String() = %q", got)
	}
}

func TestEventStringSingleStringProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.StringMatching(`[a-z][a-z0-9_]{0,11}`).Draw(t, "key")
		val := rapid.String().Draw(t, "val")
		got := NewEvent(Push, map[string]any{key: val}).String()
		want := "{" + key + ":" + strconv.Quote(val) + "}"
		if got != want {
			t.Fatalf("String() = %s, want %s", got, want)
		}
	})
}

func TestEventStringMentionsEveryKeyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.MapOf(
			rapid.StringMatching(`[a-z]{1,8}`),
			rapid.IntRange(-1000, 1000),
		).Draw(t, "data")
		m := make(map[string]any, len(data))
		for k, v := range data {
			m[k] = v
		}
		got := NewEvent(Fetch, m).String()
		if !strings.HasPrefix(got, "{") || !strings.HasSuffix(got, "}") {
			t.Fatalf("String() = %s, expected braces", got)
		}
		for k, v := range data {
			if !strings.Contains(got, k+":"+strconv.Itoa(v)) {
				t.Fatalf("String() = %s, missing %s", got, k)
			}
		}
	})
}

// ///////////////////////////////////////////////
// Response Slot
// ///////////////////////////////////////////////

func TestRespondWith(t *testing.T) {
	ev := NewEvent(Fetch, map[string]any{"url": "/x"})
	if _, ok := ev.Responded(); ok {
		t.Fatal("fresh event should not be responded")
	}
	if err := ev.RespondWith(&Response{Status: 200}); err != nil {
		t.Fatalf("RespondWith: %v", err)
	}
	r, ok := ev.Responded()
	if !ok || r.Status != 200 {
		t.Fatalf("Responded() = %+v, %v", r, ok)
	}
	if err := ev.RespondWith(&Response{Status: 201}); !errors.Is(err, ErrAlreadyResponded) {
		t.Errorf("second RespondWith error = %v, want ErrAlreadyResponded", err)
	}
}

func TestRespondWithNonFetch(t *testing.T) {
	for _, sig := range []Signal{Install, Activate, Push} {
		ev := NewEvent(sig, nil)
		if err := ev.RespondWith(&Response{Status: 200}); !errors.Is(err, ErrNotRespondable) {
			t.Errorf("%s: RespondWith error = %v, want ErrNotRespondable", sig, err)
		}
	}
}

func TestWaitUntil(t *testing.T) {
	ev := NewEvent(Install, nil)
	ev.WaitUntil(nil)
	if n := len(ev.Extensions()); n != 0 {
		t.Fatalf("nil WaitUntil should be ignored, got %d", n)
	}
	ev.WaitUntil(func() error { return nil })
	if n := len(ev.Extensions()); n != 1 {
		t.Fatalf("Extensions() = %d, want 1", n)
	}
}
