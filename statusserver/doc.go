// Package statusserver exposes the state of a netguard process over HTTP.
//
// Routes:
//
//	GET  /healthz          liveness, always public
//	GET  /readyz           readiness, always public
//	GET  /health           every component as JSON
//	GET  /health/{name}    one component as JSON
//	GET  /proxies          proxy pool statistics
//	POST /proxies/check    run a health sweep now
//	GET  /breakers         circuit breaker state and recent errors
//	GET  /ratelimits       rate limiter windows
//	GET  /metrics          Prometheus metrics, when configured
//
// Every route except /healthz and /readyz goes through the auth middleware
// when an authenticator is configured. /health and /proxies bodies are
// cached for Config.CacheTTL.
package statusserver
