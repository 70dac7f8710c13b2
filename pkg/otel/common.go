// Package otel bootstraps the OpenTelemetry SDK for processes using this
// module. Start installs global tracer and meter providers exporting OTLP
// over gRPC to a local agent; until then the instrumentation points in the
// transport stages and rest endpoints are no-ops.
package otel

import (
	"fmt"
	"os"
)

const (
	_defaultAgentHost = "otel-agent"
	_defaultAgentPort = "4317"

	_otelAgentHostEnv = "OTEL_HOST"
	_otelAgentPortEnv = "OTEL_PORT"
)

// ShutdownFunc flushes and stops the providers installed by Start.
type ShutdownFunc func() error

// getEndpoint resolves the agent address from OTEL_HOST and OTEL_PORT,
// falling back to the in-cluster default.
func getEndpoint() string {
	host := os.Getenv(_otelAgentHostEnv)
	if host == "" {
		host = _defaultAgentHost
	}
	port := os.Getenv(_otelAgentPortEnv)
	if port == "" {
		port = _defaultAgentPort
	}
	return fmt.Sprintf("%s:%s", host, port)
}
