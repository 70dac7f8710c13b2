package courier

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/luizaranda/courier/pkg/wire"
)

func TestNewBodyTypes(t *testing.T) {
	cases := []struct {
		name    string
		rawBody any
		wantLen int64
	}{
		{"byte slice", []byte("payload"), 7},
		{"bytes buffer", bytes.NewBufferString("payload"), 7},
		{"bytes reader", bytes.NewReader([]byte("payload")), 7},
		{"plain reader", strings.NewReader("payload"), 7},
		{"reader func", ReaderFunc(func() (io.Reader, error) {
			return bytes.NewReader([]byte("payload")), nil
		}), 7},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, err := NewBody(tc.rawBody)
			if err != nil {
				t.Fatalf("NewBody() error = %v", err)
			}
			if body.Len() != tc.wantLen {
				t.Errorf("Len() = %d, want %d", body.Len(), tc.wantLen)
			}

			got, err := io.ReadAll(body)
			if err != nil {
				t.Fatalf("reading body: %v", err)
			}
			if string(got) != "payload" {
				t.Errorf("body = %q, want payload", got)
			}
		})
	}
}

func TestNewBodyRejectsUnknownType(t *testing.T) {
	if _, err := NewBody(42); err == nil {
		t.Fatal("NewBody(int) succeeded, want error")
	}
}

func TestBodyRewind(t *testing.T) {
	body, err := NewBody([]byte("payload"))
	if err != nil {
		t.Fatalf("NewBody() error = %v", err)
	}

	half := make([]byte, 3)
	if _, err := io.ReadFull(body, half); err != nil {
		t.Fatalf("partial read: %v", err)
	}

	if !body.Rewind() {
		t.Fatal("Rewind() = false for an in-memory body")
	}

	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("reading rewound body: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("rewound body = %q, want the full payload", got)
	}
}

func TestBodyGetBodyReturnsFreshCopies(t *testing.T) {
	body, err := NewBody([]byte("payload"))
	if err != nil {
		t.Fatalf("NewBody() error = %v", err)
	}
	if _, err := io.ReadAll(body); err != nil {
		t.Fatalf("draining original: %v", err)
	}

	for i := 0; i < 2; i++ {
		fresh, err := body.GetBody()
		if err != nil {
			t.Fatalf("GetBody() error = %v", err)
		}
		got, err := io.ReadAll(fresh)
		if err != nil {
			t.Fatalf("reading copy: %v", err)
		}
		if string(got) != "payload" {
			t.Errorf("copy %d = %q, want the full payload", i, got)
		}
	}
}

func TestPipedBodyStarvesWhenEmpty(t *testing.T) {
	body, w := NewPipedBody()

	if _, err := body.Read(make([]byte, 8)); !errors.Is(err, wire.ErrAgain) {
		t.Fatalf("Read() on empty pipe error = %v, want wire.ErrAgain", err)
	}
	if body.Rewind() {
		t.Error("Rewind() = true for a piped body")
	}
	if body.Len() != -1 {
		t.Errorf("Len() = %d, want -1", body.Len())
	}

	w.Close()
}

func TestPipedBodyDeliversWritesThenEOF(t *testing.T) {
	body, w := NewPipedBody()

	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	buf := make([]byte, 8)
	n, err := body.Read(buf)
	if err != nil || string(buf[:n]) != "abc" {
		t.Fatalf("Read() = %q, %v, want abc", buf[:n], err)
	}

	if _, err := body.Read(buf); !errors.Is(err, wire.ErrAgain) {
		t.Fatalf("drained pipe error = %v, want wire.ErrAgain", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := body.Read(buf); err != io.EOF {
		t.Fatalf("closed pipe error = %v, want io.EOF", err)
	}

	// Writes after close fail instead of vanishing.
	if _, err := w.Write([]byte("late")); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Write() after Close error = %v, want io.ErrClosedPipe", err)
	}
}

func TestPipedBodyCloseWithError(t *testing.T) {
	body, w := NewPipedBody()
	boom := errors.New("upstream went away")

	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.CloseWithError(boom); err != nil {
		t.Fatalf("CloseWithError() error = %v", err)
	}

	// Bytes written before the failure still drain.
	buf := make([]byte, 8)
	n, err := body.Read(buf)
	if err != nil || string(buf[:n]) != "abc" {
		t.Fatalf("Read() = %q, %v, want the buffered bytes", buf[:n], err)
	}
	if _, err := body.Read(buf); !errors.Is(err, boom) {
		t.Fatalf("Read() after drain error = %v, want the writer's error", err)
	}
}

func TestPipedBodyWriterBackpressure(t *testing.T) {
	body, w := NewPipedBody()

	// The first write overshoots the bound and is accepted whole; the next
	// one has to wait for the reader.
	if _, err := w.Write(make([]byte, _pipeBufferSize)); err != nil {
		t.Fatalf("filling write error = %v", err)
	}

	wrote := make(chan error, 1)
	go func() {
		_, err := w.Write([]byte("x"))
		wrote <- err
	}()

	select {
	case err := <-wrote:
		t.Fatalf("Write() returned %v while the pipe was full", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := body.Read(make([]byte, 32*1024)); err != nil {
		t.Fatalf("draining read error = %v", err)
	}

	select {
	case err := <-wrote:
		if err != nil {
			t.Fatalf("unblocked Write() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Write() still blocked after the reader drained")
	}

	w.Close()
}

func TestPipedBodyReaderCloseFailsWriter(t *testing.T) {
	body, w := NewPipedBody()

	if err := body.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := w.Write([]byte("x")); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Write() after reader close error = %v, want io.ErrClosedPipe", err)
	}
	if _, err := body.Read(make([]byte, 1)); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("Read() after reader close error = %v, want io.ErrClosedPipe", err)
	}
}

func TestPipedBodyNotify(t *testing.T) {
	body, w := NewPipedBody()

	notified := make(chan struct{}, 4)
	bindPipe(body, func() { notified <- struct{}{} })

	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("write did not fire the wakeup")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("close did not fire the wakeup")
	}
}

func TestPipedBodyNotifyReplaysPreBindWrites(t *testing.T) {
	body, w := NewPipedBody()

	if _, err := w.Write([]byte("early")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	notified := make(chan struct{}, 1)
	bindPipe(body, func() { notified <- struct{}{} })

	// Data queued before the transfer went live is announced on bind.
	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatal("bind did not announce the buffered write")
	}

	w.Close()
}
