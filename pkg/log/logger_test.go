package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

type syncBuffer struct {
	bytes.Buffer
}

func (*syncBuffer) Sync() error { return nil }

func newBufferedLogger(t *testing.T, lvl AtomicLevel, opts ...Option) (Logger, *syncBuffer) {
	t.Helper()

	buf := &syncBuffer{}
	opts = append([]Option{
		WithWriter(buf),
		WithCaller(false),
		WithStacktraceOnError(false),
	}, opts...)
	return NewProductionLogger(&lvl, opts...), buf
}

func logLines(t *testing.T, buf *syncBuffer) []map[string]any {
	t.Helper()

	var lines []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			t.Fatalf("log line %q is not JSON: %v", raw, err)
		}
		lines = append(lines, m)
	}
	return lines
}

func TestProductionLoggerWritesJSON(t *testing.T) {
	l, buf := newBufferedLogger(t, NewAtomicLevelAt(InfoLevel))

	l.Info("exchange accepted", String("method", "GET"), Uint64("handle", 7))

	lines := logLines(t, buf)
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1", len(lines))
	}

	entry := lines[0]
	if entry["msg"] != "exchange accepted" {
		t.Errorf("msg = %v, want exchange accepted", entry["msg"])
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %v, want GET", entry["method"])
	}
	if entry["handle"] != float64(7) {
		t.Errorf("handle = %v, want 7", entry["handle"])
	}
	if ts, _ := entry["ts"].(string); ts == "" {
		t.Errorf("ts missing from entry: %v", entry)
	}
}

func TestLoggerSuppressesBelowLevel(t *testing.T) {
	l, buf := newBufferedLogger(t, NewAtomicLevelAt(InfoLevel))

	l.Debug("noise")
	l.Info("signal")

	lines := logLines(t, buf)
	if len(lines) != 1 || lines[0]["msg"] != "signal" {
		t.Fatalf("got lines %v, want only the info entry", lines)
	}
}

func TestAtomicLevelAdjustsAtRuntime(t *testing.T) {
	lvl := NewAtomicLevelAt(InfoLevel)
	l, buf := newBufferedLogger(t, lvl)

	l.Debug("before")
	lvl.SetLevel(DebugLevel)
	l.Debug("after")

	lines := logLines(t, buf)
	if len(lines) != 1 || lines[0]["msg"] != "after" {
		t.Fatalf("got lines %v, want only the entry logged after lowering the level", lines)
	}
}

func TestWithLevelScopesChild(t *testing.T) {
	l, buf := newBufferedLogger(t, NewAtomicLevelAt(DebugLevel))

	child := l.With(String("component", "reactor")).WithLevel(ErrorLevel)
	child.Info("hidden")
	child.Error("boom")
	l.Info("parent still talks")

	lines := logLines(t, buf)
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2: %v", len(lines), lines)
	}
	if lines[0]["msg"] != "boom" || lines[0]["component"] != "reactor" {
		t.Errorf("child entry = %v, want msg boom with component reactor", lines[0])
	}
	if lines[1]["msg"] != "parent still talks" {
		t.Errorf("parent entry = %v, want msg untouched by the child level", lines[1])
	}
}

func TestNamedLogger(t *testing.T) {
	l, buf := newBufferedLogger(t, NewAtomicLevelAt(InfoLevel))

	l.Named("reactor").Info("ready")

	lines := logLines(t, buf)
	if len(lines) != 1 || lines[0]["logger"] != "reactor" {
		t.Fatalf("got lines %v, want a single entry named reactor", lines)
	}
}

func TestErrField(t *testing.T) {
	l, buf := newBufferedLogger(t, NewAtomicLevelAt(InfoLevel))

	l.Error("engine drive failed", Err(errors.New("socket closed")))

	lines := logLines(t, buf)
	if len(lines) != 1 || lines[0]["error"] != "socket closed" {
		t.Fatalf("got lines %v, want the error under the error key", lines)
	}
}

func TestDevelopmentLoggerUsesConsoleEncoding(t *testing.T) {
	buf := &syncBuffer{}
	lvl := NewAtomicLevelAt(InfoLevel)
	l := NewDevelopmentLogger(&lvl, WithWriter(buf), WithCaller(false))

	l.Info("readable by humans")

	out := buf.String()
	if !strings.Contains(out, "readable by humans") || !strings.Contains(out, "info") {
		t.Fatalf("console output = %q, want plain text with the level", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("console output looks like JSON: %q", out)
	}
}

func TestFromContext(t *testing.T) {
	if got := FromContext(context.Background()); got != DefaultLogger {
		t.Fatalf("FromContext on an empty context = %v, want DefaultLogger", got)
	}

	l, buf := newBufferedLogger(t, NewAtomicLevelAt(InfoLevel))
	ctx := Context(context.Background(), l)

	FromContext(ctx).Info("routed")

	lines := logLines(t, buf)
	if len(lines) != 1 || lines[0]["msg"] != "routed" {
		t.Fatalf("got lines %v, want the entry through the context logger", lines)
	}
}
