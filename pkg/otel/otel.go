package otel

import (
	"context"
)

// Start installs the global tracer and meter providers. The returned
// ShutdownFunc flushes whatever telemetry is still buffered and must be
// called on process exit.
func Start(ctx context.Context) (ShutdownFunc, error) {
	tracingShutdown, err := startTracerProvider(ctx)
	if err != nil {
		return nil, err
	}

	metricsShutdown, err := startMetricsProvider(ctx)
	if err != nil {
		_ = tracingShutdown()
		return nil, err
	}

	return func() error {
		if err := tracingShutdown(); err != nil {
			return err
		}

		return metricsShutdown()
	}, nil
}
