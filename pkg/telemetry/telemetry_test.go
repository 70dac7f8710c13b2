package telemetry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// recordedMetric is one call captured by recordingClient.
type recordedMetric struct {
	Kind  string
	Name  string
	Value string
	Tags  []string
}

type recordingClient struct {
	Client
	calls []recordedMetric
}

func (c *recordingClient) record(kind, name, value string, tags []string) {
	c.calls = append(c.calls, recordedMetric{Kind: kind, Name: name, Value: value, Tags: tags})
}

func (c *recordingClient) Gauge(name string, value float64, tags []string) {
	c.record("gauge", name, fmt.Sprint(value), tags)
}

func (c *recordingClient) Count(name string, value int64, tags []string) {
	c.record("count", name, fmt.Sprint(value), tags)
}

func (c *recordingClient) Incr(name string, tags []string) {
	c.record("incr", name, "", tags)
}

func (c *recordingClient) Timing(name string, value time.Duration, tags []string) {
	c.record("timing", name, value.String(), tags)
}

func TestMetricHelpersUseContextClient(t *testing.T) {
	rec := &recordingClient{}
	ctx := Context(context.Background(), rec)

	Incr(ctx, "requests.total", Tags("status", 200))
	Gauge(ctx, "queue.depth", 3, nil)
	Count(ctx, "bytes.sent", 512, nil)
	Timing(ctx, "request.time", 250*time.Millisecond, Tags("target_id", "/users/{id}"))

	want := []recordedMetric{
		{Kind: "incr", Name: "requests.total", Value: "", Tags: []string{"status:200"}},
		{Kind: "gauge", Name: "queue.depth", Value: "3", Tags: nil},
		{Kind: "count", Name: "bytes.sent", Value: "512", Tags: nil},
		{Kind: "timing", Name: "request.time", Value: "250ms", Tags: []string{"target_id:/users/{id}"}},
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("recorded metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestFromContextFallsBackToDefaultTracer(t *testing.T) {
	if got := FromContext(context.Background()); got != DefaultTracer {
		t.Fatalf("FromContext on an empty context = %v, want DefaultTracer", got)
	}

	// The default tracer swallows everything without panicking.
	Incr(context.Background(), "requests.total", nil)
	Gauge(context.Background(), "queue.depth", 1, nil)
}

func TestTags(t *testing.T) {
	got := Tags("status", 200, "method", "GET", "retry", true)
	want := []string{"status:200", "method:GET", "retry:true"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Tags mismatch (-want +got):\n%s", diff)
	}
}

func TestTagsPanicsOnOddArguments(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for an odd argument count")
		}
	}()
	Tags("status", 200, "method")
}

func TestSanitizeMetricTagValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "/users/123?page=2", want: "/users/123"},
		{in: "/users/123/", want: "/users/123"},
		{in: "/", want: "/"},
		{in: "/users/{user_id}/orders/{order_id}", want: "/users/_user_id/orders/_order_id"},
	}

	for _, tt := range tests {
		if got := SanitizeMetricTagValue(tt.in); got != tt.want {
			t.Errorf("SanitizeMetricTagValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
