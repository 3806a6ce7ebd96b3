package proxypool

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/netguard/observe"
	"github.com/jonwraymond/netguard/resilience"
)

func fastSession(p *Pool) *Session {
	return NewSession(p, SessionConfig{
		MaxRetries:  3,
		Timeout:     2 * time.Second,
		BackoffUnit: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})
}

func TestSession_GetThroughProxy(t *testing.T) {
	var gotUA, gotLang, gotAbsURI atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		gotLang.Store(r.Header.Get("Accept-Language"))
		gotAbsURI.Store(r.URL.String())
		w.Header().Set("X-Upstream", "ok")
		_, _ = io.WriteString(w, "hello")
	}))
	defer srv.Close()
	p := newTestPool(t, specFor(srv.Listener.Addr().String()))

	resp, err := fastSession(p).Get(context.Background(), "http://target.invalid/page", &RequestOptions{
		Query: url.Values{"q": {"go"}},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(resp.Body))
	assert.Equal(t, "ok", resp.Header.Get("X-Upstream"))
	assert.Equal(t, srv.Listener.Addr().String(), resp.Proxy)
	assert.Equal(t, 1, resp.Attempts)
	assert.Positive(t, resp.Duration)

	assert.Equal(t, DefaultHeaders["User-Agent"], gotUA.Load())
	assert.Equal(t, "en-US,en;q=0.9", gotLang.Load())
	assert.Equal(t, "http://target.invalid/page?q=go", gotAbsURI.Load())
	assert.Equal(t, 1, p.Stats().Proxies[0].SuccessCount)
}

func TestSession_RequestHeadersOverrideDefaults(t *testing.T) {
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
	}))
	defer srv.Close()
	p := newTestPool(t, specFor(srv.Listener.Addr().String()))

	_, err := fastSession(p).Get(context.Background(), "http://target.invalid/", &RequestOptions{
		Headers: map[string]string{"User-Agent": "netguard-test"},
	})
	require.NoError(t, err)
	assert.Equal(t, "netguard-test", gotUA.Load())
}

func TestSession_RotatesPastFailingProxy(t *testing.T) {
	bad := newProxyServer(t, http.StatusBadGateway)
	good := newProxyServer(t, http.StatusOK)
	p := newTestPool(t, bad.spec(), good.spec())

	resp, err := fastSession(p).Get(context.Background(), "http://target.invalid/", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, good.Listener.Addr().String(), resp.Proxy)
	s := p.Stats()
	assert.Equal(t, 1, s.Proxies[0].FailureCount)
	assert.Equal(t, 1, s.Proxies[1].SuccessCount)
}

func TestSession_AllAttemptsExhausted(t *testing.T) {
	p := newTestPool(t, deadProxySpec(t), deadProxySpec(t))

	resp, err := fastSession(p).Get(context.Background(), "http://target.invalid/", nil)
	require.Error(t, err)
	assert.Nil(t, resp)

	var exhausted *resilience.AllAttemptsExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, resilience.ErrMaxRetriesExceeded)

	var te *resilience.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.MethodGet, te.Method)
	assert.NotEmpty(t, te.Proxy)
	assert.Equal(t, resilience.KindTransport, resilience.KindOf(err))

	s := p.Stats()
	assert.Equal(t, 3, s.Proxies[0].FailureCount+s.Proxies[1].FailureCount)
}

func TestSession_StatusErrorCarriesCode(t *testing.T) {
	blocked := newProxyServer(t, http.StatusForbidden)
	p := newTestPool(t, blocked.spec())

	_, err := NewSession(p, SessionConfig{MaxRetries: 1}).Get(context.Background(), "http://target.invalid/", nil)

	var te *resilience.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusForbidden, te.StatusCode)
	assert.Equal(t, int32(1), blocked.hits.Load())
}

func TestSession_CallerCancelDoesNotBlameProxy(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	p := newTestPool(t, specFor(srv.Listener.Addr().String()))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := fastSession(p).Get(ctx, "http://target.invalid/", nil)

	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.Equal(t, 0, p.Stats().Proxies[0].FailureCount)
}

func TestSession_AttemptTimeoutIsAFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	p := newTestPool(t, specFor(srv.Listener.Addr().String()))

	s := NewSession(p, SessionConfig{MaxRetries: 1, Timeout: 20 * time.Millisecond})
	_, err := s.Get(context.Background(), "http://target.invalid/", nil)

	require.ErrorIs(t, err, resilience.ErrMaxRetriesExceeded)
	assert.Equal(t, resilience.KindTimeout, resilience.KindOf(err))
	assert.Equal(t, 1, p.Stats().Proxies[0].FailureCount)
}

func TestSession_Post(t *testing.T) {
	var gotBody, gotMethod atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody.Store(string(b))
		gotMethod.Store(r.Method)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()
	p := newTestPool(t, specFor(srv.Listener.Addr().String()))

	resp, err := fastSession(p).Post(context.Background(), "http://target.invalid/items", map[string]string{"name": "x"}, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, http.MethodPost, gotMethod.Load())
	assert.JSONEq(t, `{"name":"x"}`, gotBody.Load().(string))
}

func TestSession_ReaderBodySentOnEveryAttempt(t *testing.T) {
	bad := newProxyServer(t, http.StatusBadGateway)
	var gotBody atomic.Value
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody.Store(string(b))
	}))
	defer good.Close()
	p := newTestPool(t, bad.spec(), specFor(good.Listener.Addr().String()))

	resp, err := fastSession(p).Do(context.Background(), http.MethodPut, "http://target.invalid/items", &RequestOptions{
		Body: strings.NewReader("payload=1"),
	})
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, "payload=1", gotBody.Load())
}

func TestSession_Backoff(t *testing.T) {
	p := newTestPool(t, "10.0.0.1:1:a:b")
	s := NewSession(p, SessionConfig{})

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for attempt, d := range want {
		assert.Equal(t, d, s.backoff(attempt), "attempt %d", attempt)
	}
	assert.Equal(t, 3, s.config.MaxRetries)
	assert.Equal(t, 30*time.Second, s.config.Timeout)
}

func TestSession_LogsFailedAttempts(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPool(t, deadProxySpec(t))
	s := NewSession(p, SessionConfig{
		MaxRetries: 1,
		Logger:     observe.NewLoggerWithWriter("debug", &buf),
	})

	_, err := s.Get(context.Background(), "http://target.invalid/", nil)
	require.Error(t, err)

	assert.Contains(t, buf.String(), "request attempt failed")
	assert.Contains(t, buf.String(), "all request attempts failed")
	assert.NotContains(t, buf.String(), "user:pass")
}

func TestSession_MaxConcurrentUsesBulkhead(t *testing.T) {
	p := newTestPool(t, "10.0.0.1:1:a:b")
	s := NewSession(p, SessionConfig{MaxConcurrent: 2})
	require.NotNil(t, s.bulkhead)
	assert.Equal(t, 2, s.bulkhead.Metrics().MaxConcurrent)
}
