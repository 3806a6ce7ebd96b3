package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/netguard/auth"
	"github.com/jonwraymond/netguard/cache"
	"github.com/jonwraymond/netguard/health"
	"github.com/jonwraymond/netguard/observe"
	"github.com/jonwraymond/netguard/proxypool"
	"github.com/jonwraymond/netguard/resilience"
)

// Config configures a Server.
type Config struct {
	// Addr is the listen address used by Run. Default: ":8080".
	Addr string

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration

	// CacheTTL is how long /health and /proxies bodies are reused. Zero
	// disables caching.
	CacheTTL time.Duration

	// Authenticator protects the operator routes. Nil leaves them open.
	Authenticator auth.Authenticator

	// RequiredRole is enforced on authenticated requests when set.
	RequiredRole string

	// Metrics serves /metrics. Nil leaves the route unregistered.
	Metrics http.Handler

	Logger observe.Logger
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = observe.NopLogger()
	}
}

// Sources are the components the server reports on. Nil sources leave
// their routes unregistered, except Health which is required.
type Sources struct {
	Health     *health.Registry
	Pool       *proxypool.Pool
	Resilience *resilience.Registry
	Limiters   *resilience.Limiters
}

// Server serves the status routes.
type Server struct {
	config  Config
	sources Sources
	logger  observe.Logger
	cache   cache.Cache
	handler http.Handler
}

// New builds a Server. It panics when sources.Health is nil.
func New(config Config, sources Sources) *Server {
	if sources.Health == nil {
		panic("statusserver: health registry is required")
	}
	config.applyDefaults()
	s := &Server{
		config:  config,
		sources: sources,
		logger:  config.Logger.With(observe.F("component", "statusserver")),
	}
	if config.CacheTTL > 0 {
		s.cache = cache.NewMemoryCache(cache.Policy{
			DefaultTTL: config.CacheTTL,
			MaxTTL:     config.CacheTTL,
			MaxEntries: 16,
		})
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	protected := http.NewServeMux()
	protected.HandleFunc("GET /health", s.handleHealth)
	protected.HandleFunc("GET /health/{name}", health.SingleCheckHandler(s.sources.Health))
	if s.sources.Pool != nil {
		protected.HandleFunc("GET /proxies", s.handleProxies)
		protected.HandleFunc("POST /proxies/check", s.handleSweep)
	}
	if s.sources.Resilience != nil {
		protected.HandleFunc("GET /breakers", s.handleBreakers)
	}
	if s.sources.Limiters != nil {
		protected.HandleFunc("GET /ratelimits", s.handleRateLimits)
	}
	if s.config.Metrics != nil {
		protected.Handle("GET /metrics", s.config.Metrics)
	}

	var guarded http.Handler = protected
	if s.config.Authenticator != nil {
		guarded = auth.Middleware(s.config.Authenticator, auth.MiddlewareConfig{
			RequiredRole: s.config.RequiredRole,
			Logger:       s.config.Logger,
		})(protected)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.LivenessHandler())
	mux.HandleFunc("GET /readyz", health.ReadinessHandler(s.sources.Health))
	mux.Handle("/", guarded)
	return s.logRequests(mux)
}

// Run listens on Config.Addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully
// within Config.ShutdownTimeout. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info(ctx, "status server listening", observe.F("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info(shutdownCtx, "status server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown status server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// cachedResponse is what the response cache stores per route.
type cachedResponse struct {
	Code int             `json:"code"`
	Body json.RawMessage `json:"body"`
}

// serveCached writes the response rendered by render, reusing a cached copy
// when one is fresh.
func (s *Server) serveCached(w http.ResponseWriter, r *http.Request, key string, render func(ctx context.Context) (int, any)) {
	raw, err := cache.Fetch(r.Context(), s.cache, key, s.config.CacheTTL, func(ctx context.Context) ([]byte, error) {
		code, v := render(ctx)
		body, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return json.Marshal(cachedResponse{Code: code, Body: body})
	})
	var resp cachedResponse
	if err == nil {
		err = json.Unmarshal(raw, &resp)
	}
	if err != nil {
		s.logger.Error(r.Context(), "render status response", observe.F("path", r.URL.Path), observe.Err(err))
		health.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	health.WriteJSON(w, resp.Code, resp.Body)
}

func (s *Server) invalidate(ctx context.Context, keys ...string) {
	if s.cache == nil {
		return
	}
	for _, k := range keys {
		_ = s.cache.Delete(ctx, k)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.serveCached(w, r, "health", func(ctx context.Context) (int, any) {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		snap := s.sources.Health.SystemHealth(ctx)
		return health.StatusCode(snap.Status), snap
	})
}

func (s *Server) handleProxies(w http.ResponseWriter, r *http.Request) {
	s.serveCached(w, r, "proxies", func(context.Context) (int, any) {
		return http.StatusOK, s.sources.Pool.Stats()
	})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.sources.Pool.CheckHealth(r.Context())
	if err != nil {
		health.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	s.invalidate(r.Context(), "health", "proxies")
	health.WriteJSON(w, http.StatusOK, res)
}

type breakersResponse struct {
	Breakers     []resilience.CircuitBreakerMetrics `json:"breakers"`
	RecentErrors []errorView                        `json:"recent_errors"`
}

type errorView struct {
	resilience.ErrorContext
	Error string `json:"error,omitempty"`
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	recent := s.sources.Resilience.RecentErrors(r.URL.Query().Get("operation"))
	views := make([]errorView, 0, len(recent))
	for _, ec := range recent {
		v := errorView{ErrorContext: ec}
		if ec.Err != nil {
			v.Error = ec.Err.Error()
		}
		views = append(views, v)
	}
	health.WriteJSON(w, http.StatusOK, breakersResponse{
		Breakers:     s.sources.Resilience.Snapshot(),
		RecentErrors: views,
	})
}

func (s *Server) handleRateLimits(w http.ResponseWriter, _ *http.Request) {
	health.WriteJSON(w, http.StatusOK, map[string]any{"limiters": s.sources.Limiters.Metrics()})
}

const requestIDHeader = "X-Request-Id"

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests tags every response with a request id and logs it at debug.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Debug(r.Context(), "status request",
			observe.F("request_id", id),
			observe.F("method", r.Method),
			observe.F("path", r.URL.Path),
			observe.F("status", rec.code),
			observe.F("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}
