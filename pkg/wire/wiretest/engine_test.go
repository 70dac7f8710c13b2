package wiretest

import (
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/luizaranda/courier/pkg/wire"
)

func testDescriptor(method, rawURL string, body wire.BodySource) wire.Descriptor {
	u, _ := url.Parse(rawURL)
	d := wire.Descriptor{Method: method, URL: u, Header: http.Header{}, Body: body}
	if body != nil {
		d.BodyLen = body.Len()
	}
	return d
}

func driveAll(t *testing.T, e *Engine, ready []wire.Readiness) []wire.Event {
	t.Helper()

	var all []wire.Event
	for i := 0; i < 100; i++ {
		evs, err := e.Drive(ready)
		if err != nil {
			t.Fatalf("Drive() error = %v", err)
		}
		if len(evs) == 0 {
			return all
		}
		all = append(all, evs...)
	}
	t.Fatal("Drive() kept producing events after 100 iterations")
	return nil
}

func TestEngineReplaysScriptInOrder(t *testing.T) {
	e := NewEngine(func(d wire.Descriptor) []Step {
		return Respond(200, http.Header{"Content-Length": {"5"}}, "he", "llo")
	})

	h, err := e.Add(testDescriptor("GET", "http://example.com/", nil))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	events := driveAll(t, e, nil)

	var kinds []wire.EventKind
	var body strings.Builder
	for _, ev := range events {
		if ev.Handle != h {
			t.Fatalf("event for handle %d, want %d", ev.Handle, h)
		}
		kinds = append(kinds, ev.Kind)
		if ev.Kind == wire.EventBodyData {
			body.Write(ev.Data)
		}
	}

	want := []wire.EventKind{wire.EventHeaderData, wire.EventBodyData, wire.EventBodyData, wire.EventComplete}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("event kinds mismatch (-want +got):\n%s", diff)
	}
	if got := body.String(); got != "hello" {
		t.Errorf("body = %q, want %q", got, "hello")
	}
}

func TestEngineEmitsOneEventPerDrive(t *testing.T) {
	e := NewEngine(func(d wire.Descriptor) []Step {
		return Respond(200, nil, "a", "b", "c")
	})

	if _, err := e.Add(testDescriptor("GET", "http://example.com/", nil)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		evs, err := e.Drive(nil)
		if err != nil {
			t.Fatalf("Drive() error = %v", err)
		}
		if len(evs) != 1 {
			t.Fatalf("Drive() #%d returned %d events, want 1", i, len(evs))
		}
	}
}

func TestEngineBlocksOnReadinessSteps(t *testing.T) {
	const fd = 7
	e := NewEngine(func(d wire.Descriptor) []Step {
		return []Step{NeedsRead(fd), Head(204, nil), Complete()}
	})

	if _, err := e.Add(testDescriptor("GET", "http://example.com/", nil)); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	evs, err := e.Drive(nil)
	if err != nil {
		t.Fatalf("Drive() error = %v", err)
	}
	if len(evs) != 1 || evs[0].Kind != wire.EventNeedsRead || evs[0].FD != fd {
		t.Fatalf("Drive() = %+v, want a single NeedsRead for fd %d", evs, fd)
	}

	// No readiness for the fd: the script must not advance.
	if evs := driveAll(t, e, nil); len(evs) != 0 {
		t.Fatalf("Drive() without readiness produced %+v", evs)
	}

	ready := []wire.Readiness{{FD: fd, Readable: true}}
	evs, err = e.Drive(ready)
	if err != nil {
		t.Fatalf("Drive() error = %v", err)
	}
	if len(evs) != 1 || evs[0].Kind != wire.EventHeaderData {
		t.Fatalf("Drive(ready) = %+v, want the header block", evs)
	}
}

func TestEnginePauseStopsDelivery(t *testing.T) {
	e := NewEngine(func(d wire.Descriptor) []Step {
		return Respond(200, nil, "a", "b")
	})

	h, err := e.Add(testDescriptor("GET", "http://example.com/", nil))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if _, err := e.Drive(nil); err != nil { // header
		t.Fatalf("Drive() error = %v", err)
	}

	if err := e.Pause(h); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if evs := driveAll(t, e, nil); len(evs) != 0 {
		t.Fatalf("Drive() while paused produced %+v", evs)
	}

	if err := e.Resume(h); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	evs := driveAll(t, e, nil)
	if len(evs) != 3 {
		t.Fatalf("Drive() after resume produced %d events, want body+body+complete", len(evs))
	}
	if e.Pauses(h) != 1 || e.Resumes(h) != 1 {
		t.Errorf("pause/resume counts = %d/%d, want 1/1", e.Pauses(h), e.Resumes(h))
	}
}

func TestEngineRemoveRetiresExchange(t *testing.T) {
	e := NewEngine(func(d wire.Descriptor) []Step {
		return Respond(200, nil)
	})

	h, _ := e.Add(testDescriptor("GET", "http://example.com/", nil))
	driveAll(t, e, nil)

	if err := e.Remove(h); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if !e.Removed(h) {
		t.Error("Removed() = false after Remove")
	}
	if e.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", e.ActiveCount())
	}
	// Second removal is a no-op.
	if err := e.Remove(h); err != nil {
		t.Fatalf("double Remove() error = %v", err)
	}
}
