package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jonwraymond/netguard/observe"
)

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	// RequiredRole, when set, must be held by the identity (403 otherwise).
	RequiredRole string

	Logger observe.Logger

	// Now overrides the clock used for expiry checks.
	Now func() time.Time
}

// Middleware authenticates every request with authn. Rejected requests get a
// JSON error body and 401, or 403 when the identity lacks RequiredRole. The
// identity of accepted requests is available via IdentityFromContext.
func Middleware(authn Authenticator, config MiddlewareConfig) func(http.Handler) http.Handler {
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := config.Logger.With(observe.F("component", "auth"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			req := RequestFromHTTP(r)

			if !authn.Supports(ctx, req) {
				writeError(w, http.StatusUnauthorized, ErrMissingCredentials)
				return
			}
			result, err := authn.Authenticate(ctx, req)
			if err != nil {
				logger.Error(ctx, "authentication error", observe.F("path", req.Resource), observe.Err(err))
				writeError(w, http.StatusInternalServerError, errors.New("authentication unavailable"))
				return
			}
			if !result.Authenticated {
				logger.Warn(ctx, "authentication rejected",
					observe.F("path", req.Resource),
					observe.F("method", result.Method),
					observe.Err(result.Error),
				)
				writeError(w, http.StatusUnauthorized, result.Error)
				return
			}

			id := result.Identity
			if id.IsExpired(config.Now()) {
				writeError(w, http.StatusUnauthorized, ErrTokenExpired)
				return
			}
			if config.RequiredRole != "" && !id.HasRole(config.RequiredRole) {
				logger.Warn(ctx, "authorization denied",
					observe.F("path", req.Resource),
					observe.F("principal", id.Principal),
					observe.F("required_role", config.RequiredRole),
				)
				writeError(w, http.StatusForbidden, ErrForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
		})
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="netguard"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := http.StatusText(code)
	if err != nil {
		msg = err.Error()
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
