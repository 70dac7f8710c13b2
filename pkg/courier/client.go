package courier

import (
	"context"
	"errors"
	"net/http"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/luizaranda/courier/pkg/cookiejar"
	"github.com/luizaranda/courier/pkg/reactor"
	"github.com/luizaranda/courier/pkg/telemetry"
	"github.com/luizaranda/courier/pkg/telemetry/tracing"
	"github.com/luizaranda/courier/pkg/transport"
	"github.com/luizaranda/courier/pkg/wire"
)

// ErrNoEngine is returned by New when the client has neither an engine to
// build a transfer loop around nor an existing loop to join.
var ErrNoEngine = errors.New("courier: client needs an engine or a reactor")

// Requester exposes the Do method, which is the minimum required method
// for executing HTTP requests.
type Requester interface {
	Do(*http.Request) (*http.Response, error)
}

type clientOptions struct {
	Timeout             time.Duration
	ConnectTimeout      time.Duration
	TLSHandshakeTimeout time.Duration
	RedirectPolicy      transport.RedirectPolicy
	Jar                 http.CookieJar
	DefaultHeader       http.Header
	ReqHooks            []transport.RequestHook
	ResHooks            []transport.ResponseHook
	Cache               transport.Cache
	CircuitBreaker      transport.CircuitBreaker
	Throttle            *rate.Limiter
	TargetID            string
	RequestID           bool
	EnableClientTrace   bool

	Engine      wire.Engine
	Poller      wire.Poller
	Reactor     *reactor.Reactor
	ReactorOpts []reactor.Opt
}

type retryOptions struct {
	clientOptions
	BackoffStrategy BackoffFunc
	CheckRetry      CheckRetryFunc
}

// Option signature for client configurable parameters.
type Option interface {
	OptionRetryable
	applyClient(opts *clientOptions)
}

// OptionRetryable signature for retryable client configurable parameters.
type OptionRetryable interface {
	applyRetryable(opts *retryOptions)
}

type optFunc func(opts *clientOptions)

func (f optFunc) applyClient(o *clientOptions)   { f(o) }
func (f optFunc) applyRetryable(o *retryOptions) { f(&o.clientOptions) }

type retryableOptFunc func(opts *retryOptions)

func (f retryableOptFunc) applyRetryable(o *retryOptions) { f(o) }

// WithEngine gives the client the transport engine to drive. New builds a
// dedicated transfer loop around it, which Close shuts down.
func WithEngine(e wire.Engine) Option {
	return optFunc(func(options *clientOptions) {
		options.Engine = e
	})
}

// WithPoller overrides the OS readiness poller used with WithEngine. It
// exists mostly so tests can pair a scripted engine with a manual poller.
func WithPoller(p wire.Poller) Option {
	return optFunc(func(options *clientOptions) {
		options.Poller = p
	})
}

// WithReactor makes the client join an existing transfer loop instead of
// building its own. Clients sharing a reactor still share nothing else:
// cookies and interceptor configuration stay per client. Close leaves a
// shared reactor running.
func WithReactor(r *reactor.Reactor) Option {
	return optFunc(func(options *clientOptions) {
		options.Reactor = r
	})
}

// WithReactorOptions forwards options to the transfer loop New builds.
// It has no effect with WithReactor.
func WithReactorOptions(opts ...reactor.Opt) Option {
	return optFunc(func(options *clientOptions) {
		options.ReactorOpts = append(options.ReactorOpts, opts...)
	})
}

// DisableTimeout disables the exchange deadline for outgoing requests.
//
// Requests may still fail earlier if the engine enforces its own connect
// or handshake limits.
func DisableTimeout() Option { return WithTimeout(0) }

// WithTimeout controls the deadline of each exchange, from submission
// through body completion. A redirected request gets a fresh deadline per
// hop, and each retried request starts counting from the beginning.
//
// A timeout of 0 disables exchange deadlines.
func WithTimeout(t time.Duration) Option {
	return optFunc(func(options *clientOptions) {
		// Negative durations do not make sense in the context of a Requester.
		if t >= 0 {
			options.Timeout = t
		}
	})
}

// WithConnectTimeout bounds connection establishment inside the engine.
func WithConnectTimeout(t time.Duration) Option {
	return optFunc(func(options *clientOptions) {
		options.ConnectTimeout = t
	})
}

// WithTLSHandshakeTimeout bounds the TLS handshake inside the engine.
func WithTLSHandshakeTimeout(t time.Duration) Option {
	return optFunc(func(options *clientOptions) {
		options.TLSHandshakeTimeout = t
	})
}

// FollowRedirects controls whether the client should follow HTTP redirects.
// The default policy is to not follow redirects. In case follow=true is
// given, then a max of transport.DefaultMaxRedirects redirects will be
// followed.
func FollowRedirects(follow bool) Option {
	return optFunc(func(options *clientOptions) {
		if follow {
			options.RedirectPolicy = transport.Follow(transport.DefaultMaxRedirects)
		} else {
			options.RedirectPolicy = transport.NoFollow()
		}
	})
}

// WithRedirectPolicy sets the redirect policy: transport.NoFollow,
// transport.Follow or transport.FollowSameOrigin. Individual requests can
// override it with WithRequestRedirectPolicy.
func WithRedirectPolicy(policy transport.RedirectPolicy) Option {
	return optFunc(func(options *clientOptions) {
		options.RedirectPolicy = policy
	})
}

// EnableCookies gives the client an in-memory cookie jar, so Set-Cookie
// responses are stored and attached to subsequent matching requests,
// including each redirect hop.
//
// Jar storage can be customized by using WithJar. If EnableCookies is
// called after WithJar then it doesn't overwrite the jar.
func EnableCookies() Option {
	return optFunc(func(options *clientOptions) {
		if options.Jar == nil {
			options.Jar = cookiejar.New()
		}
	})
}

// WithJar allows the user to set the cookie jar attached to the client.
//
// If given nil then cookie handling is disabled.
func WithJar(jar http.CookieJar) Option {
	return optFunc(func(options *clientOptions) {
		options.Jar = jar
	})
}

// WithDefaultHeader adds a header attached to every outgoing request that
// does not already set it.
func WithDefaultHeader(key, value string) Option {
	return optFunc(func(options *clientOptions) {
		if options.DefaultHeader == nil {
			options.DefaultHeader = http.Header{}
		}
		options.DefaultHeader.Add(key, value)
	})
}

// WithRequestHook allows the user to add additional request hooks to be
// executed during an HTTP request.
func WithRequestHook(hooks ...transport.RequestHook) Option {
	return optFunc(func(options *clientOptions) {
		options.ReqHooks = append(options.ReqHooks, hooks...)
	})
}

// WithResponseHook allows the user to add additional response hooks to be
// executed during an HTTP response.
func WithResponseHook(hooks ...transport.ResponseHook) Option {
	return optFunc(func(options *clientOptions) {
		options.ResHooks = append(options.ResHooks, hooks...)
	})
}

// EnableCache enables HTTP response caching for the client. It uses the
// global DefaultCache as the backing store.
//
// Cache storage can be customized by using WithCache option. If EnableCache
// is called after WithCache then it doesn't overwrite the storage.
func EnableCache() Option {
	return optFunc(func(options *clientOptions) {
		// Only set it to DefaultCache if it's not already set. This allows
		// calling EnableCache after using WithCache for giving a custom one.
		if options.Cache == nil {
			options.Cache = DefaultCache
		}
	})
}

// WithCache allows the user to set the storage used for caching HTTP
// responses.
//
// If given nil then caching is disabled.
func WithCache(cache transport.Cache) Option {
	return optFunc(func(options *clientOptions) {
		options.Cache = cache
	})
}

// WithCircuitBreaker allows the user to set the circuit breaker to use in
// the client. Requests will be bucketed in the circuit breaker based on
// their `tracing.TargetID` value.
func WithCircuitBreaker(cb transport.CircuitBreaker) Option {
	return optFunc(func(options *clientOptions) {
		options.CircuitBreaker = cb
	})
}

// WithThrottle gates request starts through the given limiter, bounding
// the rate at which exchanges leave the client.
func WithThrottle(limiter *rate.Limiter) Option {
	return optFunc(func(options *clientOptions) {
		options.Throttle = limiter
	})
}

// WithTargetID tags every request with a target id for tracing purposes,
// unless its context already carries one.
func WithTargetID(id string) Option {
	return optFunc(func(options *clientOptions) {
		options.TargetID = id
	})
}

// EnableRequestID stamps outgoing requests with a random X-Request-Id
// header when the caller did not set one.
func EnableRequestID() Option {
	return optFunc(func(options *clientOptions) {
		options.RequestID = true
	})
}

// WithEnableClientTrace enables the tracing of transfer lifecycle metrics
// of the HTTP requests performed by the client.
func WithEnableClientTrace() Option {
	return optFunc(func(options *clientOptions) {
		options.EnableClientTrace = true
	})
}

// WithBackoffStrategy controls the wait time between requests when retrying.
func WithBackoffStrategy(strategy BackoffFunc) OptionRetryable {
	return retryableOptFunc(func(options *retryOptions) {
		options.BackoffStrategy = strategy
	})
}

// WithRetryPolicy controls the retry policy of the given HTTP client.
func WithRetryPolicy(checkRetry CheckRetryFunc) OptionRetryable {
	return retryableOptFunc(func(options *retryOptions) {
		options.CheckRetry = checkRetry
	})
}

var (
	// DefaultTimeout is the exchange deadline used by default when building
	// a Client.
	DefaultTimeout = 3 * time.Second

	// DefaultBackoffStrategy is the retry strategy used by default when
	// building a Client.
	DefaultBackoffStrategy = ConstantBackoff(0)

	// DefaultRedirectPolicy is the redirect strategy used by default when
	// building a Client.
	// Default is to not follow HTTP redirects.
	DefaultRedirectPolicy = transport.NoFollow()

	// DefaultRetryPolicy is the function that tells on any given request if the
	// client should retry it or not. By default, it retries on connection and 5xx errors only.
	DefaultRetryPolicy = ServerErrorsRetryPolicy()
)

// Client performs HTTP exchanges asynchronously through a background
// transfer loop, streaming request and response bodies incrementally.
//
// Each Client groups a cookie jar, interceptor configuration and a loop
// scope: distinct clients share nothing unless explicitly built around
// the same reactor.
type Client struct {
	transport  http.RoundTripper
	reactor    *reactor.Reactor
	ownReactor bool
	jar        http.CookieJar
	timeout    time.Duration
}

// New builds a *Client around a transport engine (WithEngine) or an
// existing transfer loop (WithReactor), recording telemetry on all
// executed requests.
//
// Returned client can be customized by passing options to New.
func New(opts ...Option) (*Client, error) {
	config := clientOptions{
		Timeout:        DefaultTimeout,
		RedirectPolicy: DefaultRedirectPolicy,
		ReqHooks:       []transport.RequestHook{ForwardTracingHeadersRequestHook},
	}

	for _, opt := range opts {
		opt.applyClient(&config)
	}

	return newClient(&config)
}

// NewRetryable builds a *RetryableClient which performs exchanges through
// a transfer loop like New, records telemetry on all executed requests,
// and can retry requests on error.
//
// RetryableClient can be customized by passing options to it. Note that Option
// is of type OptionRetryable, so those functional options can be used as well.
//
// RetryMax tells the client the maximum number of retries to execute. Eg.: A
// value of 3, means to execute the original request, and up-to 3 retries (4
// requests in total). A value of 0 means no retries, essentially the same as
// building a *Client with New.
func NewRetryable(retryMax int, opts ...OptionRetryable) (*RetryableClient, error) {
	config := retryOptions{
		BackoffStrategy: DefaultBackoffStrategy,
		CheckRetry:      DefaultRetryPolicy,
		clientOptions: clientOptions{
			Timeout:        DefaultTimeout,
			RedirectPolicy: DefaultRedirectPolicy,
			ReqHooks:       []transport.RequestHook{ForwardTracingHeadersRequestHook, RetryHeaderHook},
			ResHooks:       []transport.ResponseHook{RetryMetricHook},
		},
	}

	for _, opt := range opts {
		opt.applyRetryable(&config)
	}

	client, err := newClient(&config.clientOptions)
	if err != nil {
		return nil, err
	}

	return &RetryableClient{
		RetryMax:        retryMax,
		BackoffStrategy: config.BackoffStrategy,
		CheckRetry:      config.CheckRetry,
		Client:          client,
	}, nil
}

func newClient(config *clientOptions) (*Client, error) {
	r := config.Reactor
	ownReactor := false

	if r == nil {
		if config.Engine == nil {
			return nil, ErrNoEngine
		}

		poller := config.Poller
		if poller == nil {
			p, err := wire.NewPoller()
			if err != nil {
				return nil, err
			}
			poller = p
		}

		var err error
		r, err = reactor.New(config.Engine, poller, config.ReactorOpts...)
		if err != nil {
			_ = poller.Close()
			return nil, err
		}
		ownReactor = true
	}

	dispatch := &dispatcher{
		reactor:             r,
		timeout:             config.Timeout,
		connectTimeout:      config.ConnectTimeout,
		tlsHandshakeTimeout: config.TLSHandshakeTimeout,
	}

	return &Client{
		transport:  roundTripper(config, dispatch),
		reactor:    r,
		ownReactor: ownReactor,
		jar:        config.Jar,
		timeout:    config.Timeout,
	}, nil
}

// Close releases the client. A transfer loop the client built for itself
// is shut down, cancelling whatever is still in flight; a reactor shared
// via WithReactor is left running.
func (c *Client) Close() error {
	if !c.ownReactor {
		return nil
	}
	return c.reactor.Shutdown(context.Background())
}

// Jar returns the client's cookie jar, nil when cookies are disabled.
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

func roundTripper(config *clientOptions, dispatch http.RoundTripper) http.RoundTripper {
	chain := transport.RoundTripChain{transport.UserAgentDecorator()}

	if config.RequestID {
		chain = append(chain, transport.RequestIDDecorator())
	}

	if config.TargetID != "" {
		chain = append(chain, transport.TargetDecorator(config.TargetID))
	}

	// The redirect stage wraps cache, cookies, hooks and tracing so every
	// hop re-runs them against its own target.
	chain = append(chain, transport.RedirectDecorator(config.RedirectPolicy))

	if config.Cache != nil {
		chain = append(chain, transport.CacheDecorator(config.Cache))
	}

	if config.Jar != nil {
		chain = append(chain, transport.CookieDecorator(config.Jar))
	}

	reqHooks := config.ReqHooks
	if len(config.DefaultHeader) > 0 {
		reqHooks = append([]transport.RequestHook{DefaultHeaderHook(config.DefaultHeader)}, reqHooks...)
	}
	chain = append(chain, transport.HookDecorator(reqHooks, config.ResHooks))

	if config.EnableClientTrace {
		chain = append(chain, transport.ExtendedTraceDecorator())
	} else {
		chain = append(chain, transport.TraceDecorator())
	}

	if config.Throttle != nil {
		chain = append(chain, transport.ThrottleDecorator(config.Throttle))
	}

	if config.CircuitBreaker != nil {
		chain = append(chain, transport.CircuitBreakerDecorator(
			config.CircuitBreaker,
			transport.DefaultCircuitBreakerCheckFunc(),
			// Use the TargetID or the request host as the circuit breaker bucket key.
			func(r *http.Request) string {
				targetID := tracing.TargetID(r.Context())
				if targetID == "" {
					return r.URL.Host
				}
				return targetID
			},
		))
	}

	// OpenTelemetryDecorator must be last to avoid conflict with the TraceDecorator
	chain = append(chain, transport.OpenTelemetryDecorator())

	return chain.Apply(dispatch)
}

// DefaultHeaderHook returns a request hook attaching every header in h
// that the request does not already set.
func DefaultHeaderHook(h http.Header) transport.RequestHook {
	return func(req *http.Request) error {
		for name, values := range h {
			if _, ok := req.Header[name]; !ok {
				req.Header[name] = values
			}
		}
		return nil
	}
}

// ForwardTracingHeadersRequestHook adds to the outgoing request any headers
// contained in the context that should be forwarded for tracing reasons.
//
// The forwarded headers that already exist in the request will preserve their values
// even if they are empty. The function records a metric when a different forwarded
// header value exists in the context.
func ForwardTracingHeadersRequestHook(req *http.Request) error {
	for header, value := range tracing.ForwardedHeaders(req.Context()) {
		// If the header was already added by the caller, and it's different from the
		// one we should be forwarding, instead of replacing it record a metric.
		if v, ok := req.Header[textproto.CanonicalMIMEHeaderKey(header)]; ok && len(v) > 0 && v[0] != value {
			telemetry.Incr(req.Context(), "platform.traffic.forwarded_header.diff", telemetry.Tags(
				"stack", "go",
				"header", strings.ToLower(header),
				"target_id", telemetry.SanitizeMetricTagValue(tracing.TargetID(req.Context())),
			))
			continue
		}

		req.Header.Set(header, value)
	}
	return nil
}

// RetryHeaderHook adds the x-retry header to the outgoing request if the
// request is a retry. The value of the header is the retry attempt number.
func RetryHeaderHook(req *http.Request) error {
	if i := RetryCount(req); i > 0 {
		req.Header.Set("x-retry", strconv.Itoa(i))
	}
	return nil
}

// RetryMetricHook is a response hook which records a metric with request
// information when the response corresponds to a request which was a retry.
func RetryMetricHook(req *http.Request, res *http.Response, err error) {
	if i := RetryCount(req); i == 0 {
		return
	}

	status, statusClass := "error", "error"
	if err == nil {
		status = strconv.Itoa(res.StatusCode)
		statusClass = strconv.Itoa(res.StatusCode/100) + "xx" // 2xx, 3xx, 4xx, 5xx, etc
	} else if os.IsTimeout(err) {
		status = "timeout"
	}

	tags := []string{
		"technology:go",
		"target_id:" + telemetry.SanitizeMetricTagValue(tracing.TargetID(req.Context())),
		"method:" + strings.ToLower(req.Method),
		"status:" + status,
		"status_class:" + statusClass,
	}

	telemetry.Incr(req.Context(), "courier.http.client.request.retry.count", tags)
}
