package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonwraymond/netguard/observe"
)

func protectedHandler(authn Authenticator, cfg MiddlewareConfig) http.Handler {
	return Middleware(authn, cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(PrincipalFromContext(r.Context())))
	}))
}

func TestMiddleware(t *testing.T) {
	store := NewMemoryAPIKeyStore()
	store.AddKey("k1", "ops", "admin-key", "admin")
	store.AddKey("k2", "intern", "viewer-key", "viewer")
	var logs bytes.Buffer
	h := protectedHandler(NewAPIKeyAuthenticator(APIKeyConfig{}, store), MiddlewareConfig{
		RequiredRole: "admin",
		Logger:       observe.NewLoggerWithWriter("info", &logs),
	})

	tests := []struct {
		name     string
		key      string
		wantCode int
		wantBody string
	}{
		{"no credentials", "", http.StatusUnauthorized, "missing credentials"},
		{"wrong key", "nope", http.StatusUnauthorized, "invalid credentials"},
		{"missing role", "viewer-key", http.StatusForbidden, "access denied"},
		{"admin", "admin-key", http.StatusOK, "ops"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/proxies", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
			if tt.wantCode == http.StatusUnauthorized {
				if rec.Header().Get("WWW-Authenticate") == "" {
					t.Error("missing WWW-Authenticate header")
				}
				var body map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
					t.Errorf("body is not a JSON error: %q", rec.Body.String())
				}
			}
		})
	}

	if strings.Contains(logs.String(), "admin-key") || strings.Contains(logs.String(), "viewer-key") {
		t.Error("raw API key leaked into logs")
	}
}

func TestMiddleware_InternalError(t *testing.T) {
	authn := NewAPIKeyAuthenticator(APIKeyConfig{}, failingStore{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-API-Key", "k")
	rec := httptest.NewRecorder()

	protectedHandler(authn, MiddlewareConfig{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("code = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "store offline") {
		t.Error("internal error detail leaked to the client")
	}
}
