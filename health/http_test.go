package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestMux(reg *Registry) *http.ServeMux {
	mux := http.NewServeMux()
	RegisterHandlers(mux, reg)
	return mux
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestMux(NewRegistry()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("body = %q, want OK", rec.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		check    CheckFunc
		wantCode int
		wantBody string
	}{
		{"healthy", healthyCheck, http.StatusOK, "OK"},
		{"degraded", func(ctx context.Context) (Result, error) { return Degraded("slow"), nil }, http.StatusOK, "DEGRADED"},
		{"unhealthy", func(ctx context.Context) (Result, error) { return Result{}, errors.New("down") }, http.StatusServiceUnavailable, "UNHEALTHY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			reg.Register("c", tt.check)

			rec := httptest.NewRecorder()
			newTestMux(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestDetailedHandler(t *testing.T) {
	reg := NewRegistry()
	reg.Register("proxies", healthyCheck)
	reg.Register("storage", func(ctx context.Context) (Result, error) {
		return Result{}, errors.New("timeout")
	})

	rec := httptest.NewRecorder()
	newTestMux(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}

	var body struct {
		Healthy    bool                       `json:"healthy"`
		Status     string                     `json:"status"`
		Components map[string]json.RawMessage `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Healthy || body.Status != "unhealthy" {
		t.Errorf("healthy=%v status=%q, want false/unhealthy", body.Healthy, body.Status)
	}

	var storage struct {
		Healthy bool   `json:"healthy"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body.Components["storage"], &storage); err != nil {
		t.Fatalf("invalid component JSON: %v", err)
	}
	if storage.Healthy || storage.Error != "timeout" {
		t.Errorf("storage = %+v, want unhealthy with error timeout", storage)
	}
}

func TestSingleCheckHandler(t *testing.T) {
	reg := NewRegistry()
	reg.Register("proxies", healthyCheck)
	mux := newTestMux(reg)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/proxies", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status for unknown = %d, want 404", rec.Code)
	}
}
