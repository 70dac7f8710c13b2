package telemetry

import (
	"context"
	"time"
)

// Gauge measures the value of a metric at a particular time, using the
// telemetry.Client associated with the given context.
func Gauge(ctx context.Context, name string, value float64, tags []string) {
	FromContext(ctx).Gauge(name, value, tags)
}

// Count tracks how many times something happened per second, using the
// telemetry.Client associated with the given context.
func Count(ctx context.Context, name string, value int64, tags []string) {
	FromContext(ctx).Count(name, value, tags)
}

// Decr is just Count of -1, using the telemetry.Client associated with the
// given context.
func Decr(ctx context.Context, name string, tags []string) {
	FromContext(ctx).Decr(name, tags)
}

// Incr is just Count of 1, using the telemetry.Client associated with the
// given context.
func Incr(ctx context.Context, name string, tags []string) {
	FromContext(ctx).Incr(name, tags)
}

// Histogram tracks the statistical distribution of a set of values on each
// host, using the telemetry.Client associated with the given context.
func Histogram(ctx context.Context, name string, value float64, tags []string) {
	FromContext(ctx).Histogram(name, value, tags)
}

// Distribution tracks the statistical distribution of a set of values across
// your infrastructure, using the telemetry.Client associated with the given
// context.
func Distribution(ctx context.Context, name string, value float64, tags []string) {
	FromContext(ctx).Distribution(name, value, tags)
}

// Set counts the number of unique elements in a group, using the
// telemetry.Client associated with the given context.
func Set(ctx context.Context, name string, value string, tags []string) {
	FromContext(ctx).Set(name, value, tags)
}

// Timing sends timing information, using the telemetry.Client associated with
// the given context.
//
// It is flushed by statsd with percentiles, mean and other info.
func Timing(ctx context.Context, name string, value time.Duration, tags []string) {
	FromContext(ctx).Timing(name, value, tags)
}

// TimeInMilliseconds sends timing information in milliseconds, using the
// telemetry.Client associated with the given context.
//
// It is flushed by statsd with percentiles, mean and other info.
func TimeInMilliseconds(ctx context.Context, name string, value float64, tags []string) {
	FromContext(ctx).TimeInMilliseconds(name, value, tags)
}
