// Package resilience decides whether and when a network operation is
// attempted.
//
// # Patterns
//
//   - Circuit Breaker: stops attempts against an operation after a run of
//     failures and admits a single probe once the recovery timeout elapses.
//
//   - Retry: re-runs failed attempts with flat or exponential backoff,
//     filtered by error kind.
//
//   - Rate Limiter: admits at most N calls per sliding minute, one limiter
//     per upstream API.
//
//   - Bulkhead: caps concurrent operations.
//
//   - Timeout: bounds a single attempt.
//
// # Registry
//
// A Registry owns one breaker and one retry policy per operation name and is
// constructed explicitly and passed to the components that need it:
//
//	reg := resilience.NewRegistry(
//	    resilience.WithLogger(logger),
//	    resilience.WithRetryPolicy("search", resilience.RetryPolicy{
//	        MaxAttempts:        3,
//	        BaseDelay:          time.Second,
//	        ExponentialBackoff: true,
//	        RetryableKinds:     []resilience.ErrorKind{resilience.KindTransport},
//	    }),
//	)
//
//	body, err := resilience.Run(ctx, reg, "search", func(ctx context.Context) ([]byte, error) {
//	    return client.Search(ctx, query)
//	})
//
// An open breaker fails fast with a *CircuitOpenError. A call that fails on
// every attempt returns an *AllAttemptsExhaustedError; errors.Is and
// errors.As reach the error of the last attempt through it.
package resilience
