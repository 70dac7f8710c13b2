package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/luizaranda/courier/pkg/internal"
	"github.com/luizaranda/courier/pkg/telemetry/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.7.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	_instrumentationName = "github.com/luizaranda/courier/pkg/rest"
	_restSpanName        = "RestClient"

	_endpointSpanAttribute = attribute.Key("courier.rest.endpoint")
	_retriesSpanAttribute  = attribute.Key("courier.rest.retries")
)

func newSpan(req *http.Request) (context.Context, trace.Span) {
	tracer := otel.Tracer(_instrumentationName, trace.WithInstrumentationVersion(internal.Version))

	ctx, span := tracer.Start(req.Context(), spanName(req.Method))
	span.SetAttributes(semconv.HTTPClientAttributesFromHTTPRequest(req)...)
	span.SetAttributes(_endpointSpanAttribute.String(tracing.EndpointTemplate(ctx)))

	return ctx, span
}

func recordResponseAttributes(span trace.Span, res *http.Response, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	if retries := res.Request.Header.Get("x-retry"); retries != "" {
		span.SetAttributes(_retriesSpanAttribute.String(retries))
	}

	span.SetAttributes(semconv.HTTPAttributesFromHTTPStatusCode(res.StatusCode)...)
	span.SetStatus(semconv.SpanStatusFromHTTPStatusCode(res.StatusCode))
}

func spanName(method string) string {
	return fmt.Sprintf("%s %s", _restSpanName, method)
}
