// Package health provides a registry of named health checks and HTTP
// handlers that expose the aggregated system health.
//
// # Core Concepts
//
// A CheckFunc reports the health of one component. Returned errors and
// panics are converted into unhealthy results, so a misbehaving check never
// takes the registry down with it. Status is Healthy, Degraded or Unhealthy;
// a degraded component still counts as healthy in the system-wide boolean.
//
// # Basic Usage
//
//	reg := health.NewRegistry()
//	reg.Register("proxies", pool.Checker())
//	reg.Register("runtime", health.RuntimeCheck(health.RuntimeConfig{}))
//
//	snap := reg.SystemHealth(ctx)
//	if !snap.Healthy {
//	    // at least one component is unhealthy
//	}
//
// # HTTP Integration
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, reg)
//
// This exposes /healthz (liveness), /readyz (readiness) and /health
// (JSON snapshot).
package health
