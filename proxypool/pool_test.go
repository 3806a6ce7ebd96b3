package proxypool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/netguard/health"
	"github.com/jonwraymond/netguard/resilience"
)

// proxyServer is an httptest server standing in for a forward proxy. Requests
// for http:// targets arrive with an absolute URI; the server answers them
// itself with status.
type proxyServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newProxyServer(t *testing.T, status int) *proxyServer {
	t.Helper()
	ps := &proxyServer{}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ps.hits.Add(1)
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"origin":"%s"}`, r.Host)
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *proxyServer) spec() string {
	return specFor(ps.Listener.Addr().String())
}

func specFor(hostport string) string {
	host, port, _ := net.SplitHostPort(hostport)
	return fmt.Sprintf("%s:%s:user:pass", host, port)
}

// deadProxySpec returns a spec for a local port with nothing listening.
func deadProxySpec(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return specFor(addr)
}

func testConfig() Config {
	return Config{
		CheckURL:     "http://check.invalid/ip",
		CheckTimeout: 2 * time.Second,
	}
}

func newTestPool(t *testing.T, specs ...string) *Pool {
	t.Helper()
	p, err := New(specs, testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    Endpoint
		wantErr bool
	}{
		{name: "plain", spec: "10.0.0.1:8080:alice:s3cret", want: Endpoint{Host: "10.0.0.1", Port: 8080, Username: "alice", Password: "s3cret", Protocol: "http"}},
		{name: "trimmed", spec: "  10.0.0.1:8080:a:b \n", want: Endpoint{Host: "10.0.0.1", Port: 8080, Username: "a", Password: "b", Protocol: "http"}},
		{name: "socks scheme", spec: "socks5://10.0.0.2:1080:a:b", want: Endpoint{Host: "10.0.0.2", Port: 1080, Username: "a", Password: "b", Protocol: "socks5"}},
		{name: "empty credentials", spec: "10.0.0.1:3128::", want: Endpoint{Host: "10.0.0.1", Port: 3128, Protocol: "http"}},
		{name: "too few fields", spec: "10.0.0.1:8080", wantErr: true},
		{name: "too many fields", spec: "10.0.0.1:8080:a:b:c", wantErr: true},
		{name: "bad port", spec: "10.0.0.1:http:a:b", wantErr: true},
		{name: "port out of range", spec: "10.0.0.1:70000:a:b", wantErr: true},
		{name: "empty host", spec: ":8080:a:b", wantErr: true},
		{name: "unknown scheme", spec: "ftp://10.0.0.1:21:a:b", wantErr: true},
		{name: "empty", spec: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSpec(tt.spec)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidSpec)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Host, got.Host)
			assert.Equal(t, tt.want.Port, got.Port)
			assert.Equal(t, tt.want.Username, got.Username)
			assert.Equal(t, tt.want.Password, got.Password)
			assert.Equal(t, tt.want.Protocol, got.Protocol)
			assert.True(t, got.healthy)
		})
	}
}

func TestEndpoint_URLAndString(t *testing.T) {
	e, err := ParseSpec("10.0.0.1:8080:alice:p@ss")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1:8080", e.String())
	u := e.URL()
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "10.0.0.1:8080", u.Host)
	pass, _ := u.User.Password()
	assert.Equal(t, "alice", u.User.Username())
	assert.Equal(t, "p@ss", pass)
	assert.NotContains(t, e.String(), "alice")
}

func TestNew_SkipsInvalidSpecs(t *testing.T) {
	p, err := New([]string{"garbage", "10.0.0.1:8080:a:b", "10.0.0.2:x:a:b"}, Config{})
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 300*time.Second, p.config.HealthCheckInterval)
	assert.Equal(t, "https://httpbin.org/ip", p.config.CheckURL)
	assert.Equal(t, 10*time.Second, p.config.CheckTimeout)
	assert.Equal(t, 10, p.config.CheckConcurrency)
}

func TestNew_NoValidSpecs(t *testing.T) {
	_, err := New([]string{"nope", ""}, Config{})

	var cfgErr *resilience.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "proxies", cfgErr.Field)
	assert.ErrorIs(t, err, resilience.ErrConfiguration)

	_, err = New(nil, Config{})
	assert.ErrorIs(t, err, resilience.ErrConfiguration)
}

func TestNextProxy_RoundRobin(t *testing.T) {
	p := newTestPool(t, "10.0.0.1:1:a:b", "10.0.0.2:1:a:b", "10.0.0.3:1:a:b")

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, p.NextProxy().Host)
	}
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.1", "10.0.0.2", "10.0.0.3"}, got)
}

func TestNextProxy_StampsLastUsed(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cfg := testConfig()
	cfg.Now = func() time.Time { return now }
	p, err := New([]string{"10.0.0.1:1:a:b"}, cfg)
	require.NoError(t, err)
	defer p.Close()

	p.NextProxy()
	assert.Equal(t, now, p.Stats().Proxies[0].LastUsedAt)
}

func TestReportFailure_JointDemotionCondition(t *testing.T) {
	p := newTestPool(t, "10.0.0.1:1:a:b", "10.0.0.2:1:a:b")
	e := p.Endpoints()[0]

	for i := 0; i < 3; i++ {
		p.ReportFailure(e)
	}
	assert.True(t, p.IsHealthy(e), "three failures must not demote")

	p.ReportFailure(e)
	assert.False(t, p.IsHealthy(e), "fourth failure with zero successes demotes")
	assert.Equal(t, 1, p.Stats().Healthy)
}

func TestReportFailure_HalfSuccessRateStaysHealthy(t *testing.T) {
	p := newTestPool(t, "10.0.0.1:1:a:b")
	e := p.Endpoints()[0]

	for i := 0; i < 5; i++ {
		p.ReportSuccess(e, time.Millisecond)
		p.ReportFailure(e)
	}
	assert.True(t, p.IsHealthy(e), "a success rate of exactly 0.5 is not below the threshold")
}

func TestReportSuccess_Readmits(t *testing.T) {
	p := newTestPool(t, "10.0.0.1:1:a:b", "10.0.0.2:1:a:b")
	e := p.Endpoints()[0]
	for i := 0; i < 4; i++ {
		p.ReportFailure(e)
	}
	require.False(t, p.IsHealthy(e))

	p.ReportSuccess(e, 42*time.Millisecond)

	assert.True(t, p.IsHealthy(e))
	s := p.Stats()
	assert.Equal(t, 2, s.Healthy)
	assert.Equal(t, 1, s.Proxies[0].SuccessCount)
	assert.Equal(t, 4, s.Proxies[0].FailureCount)
	assert.InDelta(t, 42.0, s.Proxies[0].LastResponseTime, 0.001)
	assert.InDelta(t, 0.2, s.Proxies[0].SuccessRate, 0.001)
}

func TestThreeProxyDemotionScenario(t *testing.T) {
	p := newTestPool(t, "10.0.0.1:1:a:b", "10.0.0.2:1:a:b", "10.0.0.3:1:a:b")
	first := p.Endpoints()[0]

	for i := 0; i < 4; i++ {
		p.ReportFailure(first)
	}

	for i := 0; i < 20; i++ {
		assert.NotSame(t, first, p.NextProxy())
	}
	s := p.Stats()
	assert.Equal(t, 2, s.Healthy)
	assert.Equal(t, 1, s.Unhealthy)
	assert.True(t, s.Proxies[1].Healthy)
	assert.True(t, s.Proxies[2].Healthy)
}

func TestNextProxy_FallsBackToAllWhenNoneHealthy(t *testing.T) {
	p := newTestPool(t, "10.0.0.1:1:a:b", "10.0.0.2:1:a:b")
	for _, e := range p.Endpoints() {
		for i := 0; i < 4; i++ {
			p.ReportFailure(e)
		}
	}
	require.Equal(t, 0, p.Stats().Healthy)

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		seen[p.NextProxy().Host] = true
		seen[p.RandomProxy().Host] = true
	}
	assert.Len(t, seen, 2)
}

func TestRandomProxy_OnlyHealthy(t *testing.T) {
	p := newTestPool(t, "10.0.0.1:1:a:b", "10.0.0.2:1:a:b")
	bad := p.Endpoints()[1]
	for i := 0; i < 4; i++ {
		p.ReportFailure(bad)
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, "10.0.0.1", p.RandomProxy().Host)
	}
}

func TestPool_ConcurrentReporting(t *testing.T) {
	p := newTestPool(t, "10.0.0.1:1:a:b", "10.0.0.2:1:a:b", "10.0.0.3:1:a:b")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := p.NextProxy()
			p.ReportSuccess(e, time.Millisecond)
			p.ReportFailure(e)
			_ = p.Stats()
		}()
	}
	wg.Wait()

	total := 0
	for _, s := range p.Stats().Proxies {
		total += s.SuccessCount + s.FailureCount
	}
	assert.Equal(t, 100, total)
}

func TestCheckHealth_ProbesThroughEachProxy(t *testing.T) {
	good := newProxyServer(t, http.StatusOK)
	blocked := newProxyServer(t, http.StatusForbidden)
	p := newTestPool(t, good.spec(), blocked.spec(), deadProxySpec(t))

	res, err := p.CheckHealth(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Healthy, "a single failed probe does not demote")
	assert.Equal(t, int32(1), good.hits.Load())
	assert.Equal(t, int32(1), blocked.hits.Load())

	s := p.Stats()
	assert.Equal(t, 1, s.Proxies[0].SuccessCount)
	assert.Equal(t, 1, s.Proxies[1].FailureCount)
	assert.Equal(t, 1, s.Proxies[2].FailureCount)
	assert.False(t, s.LastSweep.IsZero())
	for _, e := range s.Proxies {
		assert.False(t, e.LastCheckedAt.IsZero())
	}

	for i := 0; i < 3; i++ {
		_, err = p.CheckHealth(context.Background())
		require.NoError(t, err)
	}
	res, err = p.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Healthy)
}

func TestCheckHealth_ConcurrentCallersShareSweep(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	p := newTestPool(t, specFor(srv.Listener.Addr().String()))

	var wg sync.WaitGroup
	ids := make([]string, 2)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.CheckHealth(context.Background())
			assert.NoError(t, err)
			ids[i] = res.ID
		}()
	}
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, ids[0], ids[1])
}

func TestCheckHealth_CallerCancelOnlyStopsWait(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)
	p := newTestPool(t, specFor(srv.Listener.Addr().String()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.CheckHealth(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestStartAndClose(t *testing.T) {
	good := newProxyServer(t, http.StatusOK)
	cfg := testConfig()
	cfg.HealthCheckInterval = time.Hour
	p, err := New([]string{good.spec()}, cfg)
	require.NoError(t, err)

	p.Start()
	p.Start()
	require.Eventually(t, func() bool {
		return !p.Stats().LastSweep.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, int32(1), good.hits.Load())
}

func TestChecker(t *testing.T) {
	p := newTestPool(t, "10.0.0.1:1:a:b", "10.0.0.2:1:a:b")
	check := p.Checker()

	res, err := check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, health.StatusHealthy, res.Status)
	assert.Equal(t, 2, res.Details["total"])

	endpoints := p.Endpoints()
	for i := 0; i < 4; i++ {
		p.ReportFailure(endpoints[0])
	}
	res, _ = check(context.Background())
	assert.Equal(t, health.StatusDegraded, res.Status)

	for i := 0; i < 4; i++ {
		p.ReportFailure(endpoints[1])
	}
	res, _ = check(context.Background())
	assert.Equal(t, health.StatusUnhealthy, res.Status)
	assert.ErrorIs(t, res.Error, ErrNoHealthyProxies)
}
