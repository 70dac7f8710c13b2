package reactor

import (
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"
)

func readAll(t *testing.T, s *bodyStream) (string, error) {
	t.Helper()

	var out []byte
	buf := make([]byte, 8)
	for {
		n, err := s.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			return string(out), err
		}
	}
}

func TestBodyStreamDeliversInOrder(t *testing.T) {
	s := newBodyStream(1024, 256, nil, nil)

	s.push([]byte("hello, "))
	s.push([]byte("world"))
	s.finish(nil)

	got, err := readAll(t, s)
	if err != io.EOF {
		t.Fatalf("read error = %v, want io.EOF", err)
	}
	if got != "hello, world" {
		t.Errorf("read %q, want %q", got, "hello, world")
	}
}

func TestBodyStreamReadBlocksUntilData(t *testing.T) {
	s := newBodyStream(1024, 256, nil, nil)

	done := make(chan string, 1)
	go func() {
		buf := make([]byte, 16)
		n, _ := s.Read(buf)
		done <- string(buf[:n])
	}()

	select {
	case <-done:
		t.Fatal("Read returned before any data was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	s.push([]byte("late"))
	select {
	case got := <-done:
		if got != "late" {
			t.Errorf("Read = %q, want %q", got, "late")
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not observe pushed data")
	}
}

func TestBodyStreamErrorSurfacesAfterDrain(t *testing.T) {
	s := newBodyStream(1024, 256, nil, nil)
	errBoom := errors.New("boom")

	s.push([]byte("partial"))
	s.finish(errBoom)

	got, err := readAll(t, s)
	if got != "partial" {
		t.Errorf("read %q before error, want %q", got, "partial")
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("read error = %v, want %v", err, errBoom)
	}
}

func TestBodyStreamHighWatermarkPausesOnce(t *testing.T) {
	s := newBodyStream(10, 4, nil, nil)

	if crossed := s.push(make([]byte, 8)); crossed {
		t.Fatal("push below high watermark reported crossing")
	}
	if crossed := s.push(make([]byte, 8)); !crossed {
		t.Fatal("push above high watermark did not report crossing")
	}
	// Already paused: further pushes must not report again.
	if crossed := s.push(make([]byte, 8)); crossed {
		t.Fatal("push while paused reported a second crossing")
	}
	if s.buffered() != 24 {
		t.Errorf("buffered = %d, want 24", s.buffered())
	}
}

func TestBodyStreamSignalsLowWatermark(t *testing.T) {
	var resumes atomic.Int32
	s := newBodyStream(10, 4, func() { resumes.Add(1) }, nil)

	s.push(make([]byte, 12)) // crosses high
	s.finish(nil)

	buf := make([]byte, 4)
	for read := 0; read < 12; {
		n, err := s.Read(buf)
		if err != nil {
			t.Fatalf("Read error = %v after %d bytes", err, read)
		}
		read += n
	}

	if got := resumes.Load(); got != 1 {
		t.Errorf("low watermark signaled %d times, want 1", got)
	}
}

func TestBodyStreamCloseBeforeEOFTearsDown(t *testing.T) {
	var closes atomic.Int32
	s := newBodyStream(1024, 256, nil, func() { closes.Add(1) })

	s.push([]byte("buffered"))

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := closes.Load(); got != 1 {
		t.Errorf("onClose fired %d times, want 1", got)
	}
	if s.buffered() != 0 {
		t.Errorf("buffered = %d after Close, want 0", s.buffered())
	}

	if _, err := s.Read(make([]byte, 4)); !errors.Is(err, ErrBodyClosed) {
		t.Errorf("Read after Close error = %v, want ErrBodyClosed", err)
	}

	// Closing again changes nothing.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if got := closes.Load(); got != 1 {
		t.Errorf("onClose fired %d times after double close, want 1", got)
	}
}

func TestBodyStreamCloseAfterEOFIsQuiet(t *testing.T) {
	var closes atomic.Int32
	s := newBodyStream(1024, 256, nil, func() { closes.Add(1) })

	s.push([]byte("all"))
	s.finish(nil)

	if got, err := readAll(t, s); err != io.EOF || got != "all" {
		t.Fatalf("readAll = %q, %v; want %q, io.EOF", got, err, "all")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := closes.Load(); got != 0 {
		t.Errorf("onClose fired %d times on a drained stream, want 0", got)
	}
}

func TestBodyStreamCloseUnblocksReader(t *testing.T) {
	s := newBodyStream(1024, 256, nil, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := s.Read(make([]byte, 4))
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrBodyClosed) {
			t.Errorf("Read error = %v, want ErrBodyClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Read did not observe Close")
	}
}
