package transport

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/luizaranda/courier/pkg/telemetry"
	"github.com/luizaranda/courier/pkg/telemetry/tracing"
	"github.com/luizaranda/courier/pkg/telemetry/xfertrace"
)

const (
	// HTTP request/response timing metrics.
	_httpRequestMetric                    = "courier.http.client.request.time"
	_httpResponseFullyReadTimingMetric    = "courier.http.client.response_fully_read.time"
	_httpGotFirstResponseByteTimingMetric = "courier.http.client.response_first_byte.time"

	// Metrics recorded as the transfer moves through the loop.
	_httpExchangeStartTimingMetric = "courier.http.client.exchange_start.time"
	_httpGotHeadersTimingMetric    = "courier.http.client.response_headers.time"

	// Per-transfer byte counters, recorded when the exchange finishes.
	_httpUploadBytesMetric   = "courier.http.client.request_body.bytes"
	_httpDownloadBytesMetric = "courier.http.client.response_body.bytes"

	// Backpressure visibility: counted every time flow control pauses a
	// transfer.
	_httpFlowPausedMetric = "courier.http.client.flow_paused.count"
)

// TraceDecorator returns a RoundTripDecorator that provides HTTP tracing
// capabilities to the given http.RoundTripper.
//
// For more information check TracedRoundTripper struct.
func TraceDecorator() RoundTripDecorator {
	return func(base http.RoundTripper) http.RoundTripper {
		return &TracedRoundTripper{Transport: base}
	}
}

// TracedRoundTripper is a http.RoundTripper that instruments external requests
// adding NewRelic distributed tracing headers, and recording a single metric on
// request/response behavior.
//
// Metric is recorded using `pkg/telemetry`, so in order to have working
// metrics the request context must contain a valid telemetry.Client. Metrics
// can be made more granular by making the request context have a target_id, use
// `pkg/telemetry/tracing` for that.
//
// NewRelic's integration works only if the request context contains a NewRelic
// transaction (web or non-web).
type TracedRoundTripper struct {
	Transport http.RoundTripper
}

// RoundTrip executes a single HTTP transaction, returning
// a Response for the provided Request.
func (t *TracedRoundTripper) RoundTrip(request *http.Request) (*http.Response, error) {
	// Start NewRelic external segment manually instead of using their round
	// tripper as we want to configure additional segment fields.
	// Note: this call mutates req. Refer to NewRelic docs for more information.
	segment := newrelic.StartExternalSegment(nil, request)
	segment.Procedure = buildSegmentProcedure(request)

	commonTags := tracedCommonTags(request)
	startTime := time.Now()

	// At last, we RoundTrip de request into the wrapped transport.
	response, err := t.Transport.RoundTrip(request)
	if err != nil {
		segment.AddAttribute("error", err.Error())
	}
	segment.Response = response
	segment.End()

	// When Transport.RoundTrip returns it means we have finished making the
	// request, either successfully or with error. The following method will
	// record a request metric with information about the response status, which
	// is either the response status code, a timeout or an unknown error.
	recordResponse(request.Context(), commonTags, startTime, _httpRequestMetric, response, err)

	return response, err
}

// ExtendedTraceDecorator returns a RoundTripDecorator that provides HTTP tracing
// capabilities to the given http.RoundTripper.
//
// For more information check ExtendedTracedRoundTripper struct.
func ExtendedTraceDecorator() RoundTripDecorator {
	return func(base http.RoundTripper) http.RoundTripper {
		return &ExtendedTracedRoundTripper{Transport: base}
	}
}

// ExtendedTracedRoundTripper is a http.RoundTripper that instruments external
// requests adding NewRelic distributed tracing headers, and recording various
// metrics on transfer lifecycle behavior: time to leave the submission queue,
// time to headers, bytes moved in each direction and flow-control pauses. The
// hooks ride the request context as a `xfertrace.TransferTrace`, which the
// transfer loop invokes as the exchange progresses.
//
// Metrics are recorded using `pkg/telemetry`, so in order to have working
// metrics the request context must contain a valid telemetry.Client. Metrics
// can be made more granular by making the request context have a target_id, use
// `pkg/telemetry/tracing` for that.
//
// NewRelic's integration works only if the request context contains a NewRelic
// transaction (web or non-web).
type ExtendedTracedRoundTripper struct {
	Transport http.RoundTripper
}

// RoundTrip executes a single HTTP transaction, returning
// a Response for the provided Request.
func (t *ExtendedTracedRoundTripper) RoundTrip(request *http.Request) (*http.Response, error) {
	// Start NewRelic external segment manually instead of using their round
	// tripper as we want to configure additional segment fields.
	// Note: this call mutates req. Refer to NewRelic docs for more information.
	segment := newrelic.StartExternalSegment(nil, request)
	segment.Procedure = buildSegmentProcedure(request)

	commonTags := tracedCommonTags(request)
	startTime := time.Now()
	extendedTracedRequest := newTracedRequest(request, commonTags, startTime)

	// At last, we RoundTrip de request into the wrapped transport.
	response, err := t.Transport.RoundTrip(extendedTracedRequest)
	if err != nil {
		segment.AddAttribute("error", err.Error())
	} else {
		// Body is read outside the RoundTrip method. We might not have a timeout reading
		// the headers but might reach a timeout when reading the response body.
		// We decorate the response Body with a traced implementation.
		response.Body = &errorReadCloser{
			R: response.Body,
			OnErr: func(err error) {
				if err == io.EOF {
					err = nil
				}
				recordResponse(request.Context(), commonTags, startTime, _httpResponseFullyReadTimingMetric, response, err)
			},
		}
	}
	segment.Response = response
	segment.End()

	// When Transport.RoundTrip returns it means we have finished making the
	// request, either successfully or with error. The following method will
	// record a request metric with information about the response status, which
	// is either the response status code, a timeout or an unknown error.
	recordResponse(request.Context(), commonTags, startTime, _httpRequestMetric, response, err)

	return response, err
}

func tracedCommonTags(req *http.Request) []string {
	targetID := tracing.TargetID(req.Context())

	if targetID == "" {
		return []string{
			"technology:go",
			"method:" + strings.ToLower(req.Method),
		}
	}

	return []string{
		"technology:go",
		"target_id:" + targetID,
		"method:" + strings.ToLower(req.Method),
	}
}

func buildSegmentProcedure(request *http.Request) string {
	ctx := request.Context()

	endpointTemplate := tracing.EndpointTemplate(ctx)
	if endpointTemplate != "" {
		return request.Method + " " + endpointTemplate
	}

	targetID := tracing.TargetID(ctx)
	if targetID != "" {
		return request.Method + " " + targetID
	}

	return ""
}

func recordResponse(ctx context.Context, tags []string, startTime time.Time, metric string, response *http.Response, err error) {
	status, statusClass := "error", "error"
	if err == nil {
		status = strconv.Itoa(response.StatusCode)
		statusClass = strconv.Itoa(response.StatusCode/100) + "xx" // 2xx, 3xx, 4xx, 5xx, etc
	} else if os.IsTimeout(err) {
		status = "timeout"
	}

	recordTimeSince(ctx, metric, startTime, append(tags, "status:"+status, "status_class:"+statusClass))
}

// newTracedRequest attaches transfer lifecycle hooks to the request
// context. The loop will call them (when applicable) in the following
// order.
//
//	Queued =>
//	    ExchangeStart
//	    WroteBodyChunk (zero or more)
//	    GotHeaders
//	    ReadBodyChunk (zero or more, interleaved with Paused/Resumed)
//	    Done
//
// Byte counters are accumulated across chunk hooks and recorded once at
// Done. Chunk and Done hooks run on the transfer loop goroutine, so the
// counters need no synchronization.
func newTracedRequest(request *http.Request, tags []string, startTime time.Time) *http.Request {
	ctx := request.Context()

	var (
		bytesUp   int64
		bytesDown int64
		firstByte bool
	)

	tracer := &xfertrace.TransferTrace{
		ExchangeStart: func(url string) {
			recordTimeSince(ctx, _httpExchangeStartTimingMetric, startTime, tags)
		},
		WroteBodyChunk: func(n int) {
			bytesUp += int64(n)
		},
		GotHeaders: func(status int) {
			recordTimeSince(ctx, _httpGotHeadersTimingMetric, startTime, tags)
		},
		ReadBodyChunk: func(n int) {
			if !firstByte {
				firstByte = true
				recordTimeSince(ctx, _httpGotFirstResponseByteTimingMetric, startTime, tags)
			}
			bytesDown += int64(n)
		},
		Paused: func() {
			telemetry.Incr(ctx, _httpFlowPausedMetric, tags)
		},
		Done: func(err error) {
			tags := append(tags, statusTag(err))
			telemetry.Count(ctx, _httpUploadBytesMetric, bytesUp, tags)
			telemetry.Count(ctx, _httpDownloadBytesMetric, bytesDown, tags)
		},
	}

	return request.WithContext(xfertrace.WithTransferTrace(ctx, tracer))
}

func statusTag(err error) string {
	if err == nil {
		return "status:ok"
	}

	if os.IsTimeout(err) {
		return "status:timeout"
	}

	return "status:error"
}

func recordTimeSince(ctx context.Context, metric string, start time.Time, tags []string) {
	if start.IsZero() {
		return
	}

	telemetry.Timing(ctx, metric, time.Since(start), tags)
}

// errorReadCloser is a wrapper around ReadCloser R that calls OnErr handler
// with any error returned by Read (even EOF).
type errorReadCloser struct {
	// Underlying ReadCloser.
	R io.ReadCloser

	// OnErr is called with the error (even EOF) returned by underlying Read.
	OnErr func(error)
}

// Read reads the next len(p) bytes from R or until R is drained. The
// return value n is the number of bytes read. If R has no data to
// return, err is io.EOF and OnErr is called with the error observed.
func (r *errorReadCloser) Read(p []byte) (n int, err error) {
	n, err = r.R.Read(p)
	if err != nil {
		r.OnErr(err)
	}
	return n, err
}

func (r *errorReadCloser) Close() error {
	return r.R.Close()
}
