package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// LivenessHandler reports that the process is up.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// ReadinessHandler runs every check and answers with a one-word status.
func ReadinessHandler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		snap := reg.SystemHealth(ctx)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(StatusCode(snap.Status))
		switch snap.Status {
		case StatusHealthy:
			_, _ = w.Write([]byte("OK"))
		case StatusDegraded:
			_, _ = w.Write([]byte("DEGRADED"))
		default:
			_, _ = w.Write([]byte("UNHEALTHY"))
		}
	}
}

// DetailedHandler writes the JSON snapshot of every component.
func DetailedHandler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		snap := reg.SystemHealth(ctx)
		WriteJSON(w, StatusCode(snap.Status), snap)
	}
}

// SingleCheckHandler writes the JSON result of the component named by the
// "name" path value.
func SingleCheckHandler(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		res := reg.CheckOne(ctx, r.PathValue("name"))
		code := StatusCode(res.Status)
		if res.Error == ErrNotRegistered {
			code = http.StatusNotFound
		}
		WriteJSON(w, code, res)
	}
}

// StatusCode maps a status to the HTTP code probes expect.
func StatusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// RegisterHandlers registers the health endpoints on mux.
func RegisterHandlers(mux *http.ServeMux, reg *Registry) {
	mux.HandleFunc("GET /healthz", LivenessHandler())
	mux.HandleFunc("GET /readyz", ReadinessHandler(reg))
	mux.HandleFunc("GET /health", DetailedHandler(reg))
	mux.HandleFunc("GET /health/{name}", SingleCheckHandler(reg))
}
