package proxypool

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jonwraymond/netguard/observe"
	"github.com/jonwraymond/netguard/resilience"
)

// SessionConfig configures a Session.
type SessionConfig struct {
	// MaxRetries is the total number of attempts per request. Default: 3.
	MaxRetries int

	// Timeout bounds each attempt. Default: 30s.
	Timeout time.Duration

	// BackoffUnit is the base of the exponential backoff between attempts.
	// Default: 1s.
	BackoffUnit time.Duration

	// MaxBackoff caps the backoff. Default: 10s.
	MaxBackoff time.Duration

	// Headers replace DefaultHeaders when non-nil.
	Headers map[string]string

	// MaxConcurrent bounds requests in flight. Zero means unbounded.
	MaxConcurrent int

	Logger  observe.Logger
	Metrics observe.Metrics
	Tracer  observe.Tracer
}

func (c *SessionConfig) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.Headers == nil {
		c.Headers = maps.Clone(DefaultHeaders)
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = observe.NopMetrics()
	}
	if c.Tracer == nil {
		c.Tracer = observe.NopTracer()
	}
}

// RequestOptions are per-request additions to a Session request.
type RequestOptions struct {
	Headers map[string]string
	Query   url.Values
	// Body is sent as resty encodes it. An io.Reader is read once up front
	// so every attempt sends the full body.
	Body any
}

// Response is a completed request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	// Proxy is the host:port of the endpoint that served the request.
	Proxy    string
	Attempts int
	Duration time.Duration
}

// Session issues HTTP requests through a Pool, rotating to the next proxy on
// every attempt and feeding the outcome back into the pool.
type Session struct {
	pool     *Pool
	config   SessionConfig
	logger   observe.Logger
	bulkhead *resilience.Bulkhead
}

// NewSession returns a Session bound to pool.
func NewSession(pool *Pool, config SessionConfig) *Session {
	config.applyDefaults()
	s := &Session{
		pool:   pool,
		config: config,
		logger: config.Logger.With(observe.F("component", "session")),
	}
	if config.MaxConcurrent > 0 {
		s.bulkhead = resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: config.MaxConcurrent,
			MaxWait:       -1,
		})
	}
	return s
}

// Get issues a GET request.
func (s *Session) Get(ctx context.Context, rawURL string, opts *RequestOptions) (*Response, error) {
	return s.Do(ctx, http.MethodGet, rawURL, opts)
}

// Post issues a POST request with body.
func (s *Session) Post(ctx context.Context, rawURL string, body any, opts *RequestOptions) (*Response, error) {
	o := RequestOptions{}
	if opts != nil {
		o = *opts
	}
	o.Body = body
	return s.Do(ctx, http.MethodPost, rawURL, &o)
}

// Do issues a request, trying up to MaxRetries proxies. Each failed attempt
// is reported to the pool and followed by an exponential backoff. When every
// attempt fails the error is a *resilience.AllAttemptsExhaustedError wrapping
// the last *resilience.TransportError.
func (s *Session) Do(ctx context.Context, method, rawURL string, opts *RequestOptions) (*Response, error) {
	opts, err := replayable(opts)
	if err != nil {
		return nil, err
	}
	if s.bulkhead != nil {
		if err := s.bulkhead.Acquire(ctx); err != nil {
			return nil, err
		}
		defer s.bulkhead.Release()
	}

	start := time.Now()
	var last error
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		e := s.pool.NextProxy()
		resp, err := s.attempt(ctx, e, method, rawURL, opts, attempt)
		if err == nil {
			resp.Attempts = attempt + 1
			resp.Duration = time.Since(start)
			return resp, nil
		}
		last = err

		// A caller giving up says nothing about the proxy.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.pool.ReportFailure(e)
		s.logger.Warn(ctx, "request attempt failed",
			observe.F("attempt", attempt+1),
			observe.F("max_attempts", s.config.MaxRetries),
			observe.F("proxy", e.Address()),
			observe.Err(err),
		)

		if attempt < s.config.MaxRetries-1 {
			if err := sleep(ctx, s.backoff(attempt)); err != nil {
				return nil, err
			}
		}
	}

	s.logger.Error(ctx, "all request attempts failed",
		observe.F("method", method),
		observe.F("url", rawURL),
		observe.F("attempts", s.config.MaxRetries),
	)
	return nil, &resilience.AllAttemptsExhaustedError{
		Operation: method + " " + rawURL,
		Attempts:  s.config.MaxRetries,
		Last:      last,
	}
}

func (s *Session) attempt(ctx context.Context, e *Endpoint, method, rawURL string, opts *RequestOptions, attempt int) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	ctx, span := s.config.Tracer.StartSpan(ctx,
		observe.Operation{Name: "request", Component: "proxypool", Attempt: attempt},
		attribute.String("http.method", method),
		attribute.String("proxy", e.Address()),
	)

	req := s.pool.client(e).R().
		SetContext(ctx).
		SetHeaders(s.config.Headers)
	if opts != nil {
		if opts.Headers != nil {
			req.SetHeaders(opts.Headers)
		}
		if opts.Query != nil {
			req.SetQueryParamsFromValues(opts.Query)
		}
		if opts.Body != nil {
			req.SetBody(opts.Body)
		}
	}

	start := time.Now()
	resp, err := req.Execute(method, rawURL)
	rt := time.Since(start)

	switch {
	case err != nil:
		err = &resilience.TransportError{Method: method, URL: rawURL, Proxy: e.Address(), Err: err}
	case resp.StatusCode() >= http.StatusBadRequest:
		err = &resilience.TransportError{Method: method, URL: rawURL, Proxy: e.Address(), StatusCode: resp.StatusCode()}
	}
	s.config.Metrics.RecordProxyRequest(ctx, e.Address(), rt, err)
	s.config.Tracer.EndSpan(span, err)
	if err != nil {
		return nil, err
	}

	s.pool.ReportSuccess(e, rt)
	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
		Proxy:      e.Address(),
	}, nil
}

// replayable buffers an io.Reader body so it can be sent on every attempt.
func replayable(opts *RequestOptions) (*RequestOptions, error) {
	if opts == nil {
		return nil, nil
	}
	r, ok := opts.Body.(io.Reader)
	if !ok {
		return opts, nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	o := *opts
	o.Body = b
	return &o, nil
}

// backoff returns min(BackoffUnit * 2^attempt, MaxBackoff).
func (s *Session) backoff(attempt int) time.Duration {
	d := s.config.BackoffUnit
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= s.config.MaxBackoff {
			return s.config.MaxBackoff
		}
	}
	return min(d, s.config.MaxBackoff)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
