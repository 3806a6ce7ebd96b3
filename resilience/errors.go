package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects an attempt.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrMaxRetriesExceeded is matched by errors returned after every attempt failed.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

	// ErrRateLimitExceeded is returned by non-blocking rate limit checks.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when an attempt exceeds its time budget.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrConfiguration is matched by every ConfigurationError.
	ErrConfiguration = errors.New("resilience: invalid configuration")

	// ErrPanic is matched by the error a registry attempt returns when the
	// operation panics.
	ErrPanic = errors.New("resilience: operation panicked")
)

// ErrorKind classifies errors so retry policies can select what to retry.
type ErrorKind string

const (
	KindUnknown       ErrorKind = "unknown"
	KindTransport     ErrorKind = "transport"
	KindTimeout       ErrorKind = "timeout"
	KindCircuitOpen   ErrorKind = "circuit_open"
	KindConfiguration ErrorKind = "configuration"
	KindCanceled      ErrorKind = "canceled"
)

// Valid reports whether k is one of the kinds KindOf returns.
func (k ErrorKind) Valid() bool {
	switch k {
	case KindUnknown, KindTransport, KindTimeout, KindCircuitOpen, KindConfiguration, KindCanceled:
		return true
	}
	return false
}

// Kinded is implemented by errors that know their kind.
type Kinded interface {
	Kind() ErrorKind
}

// KindOf returns the kind of err. The first Kinded error in the chain wins.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindTransport
	}

	return KindUnknown
}

// IsRetryable reports whether err may be retried at all. Errors that
// implement Retryable() bool decide for themselves, which keeps circuit-open
// rejections out of retry loops; everything else is retryable and left to
// the policy's RetryableKinds.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// ConfigurationError reports invalid or missing configuration.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "resilience: invalid configuration"
	if e.Field != "" {
		msg += " for " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error   { return e.Err }
func (e *ConfigurationError) Is(t error) bool { return t == ErrConfiguration }
func (e *ConfigurationError) Kind() ErrorKind { return KindConfiguration }

// TransportError reports a failed network exchange: a connection, TLS or
// proxy failure, or an HTTP response with status >= 400.
type TransportError struct {
	Method     string
	URL        string
	Proxy      string // host:port of the proxy used, if any
	StatusCode int    // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	var msg string
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	} else {
		msg = fmt.Sprintf("%s %s", e.Method, e.URL)
	}
	if e.Proxy != "" {
		msg += " via " + e.Proxy
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// Kind reports KindTimeout for timed out exchanges and KindTransport otherwise.
func (e *TransportError) Kind() ErrorKind {
	if e.Err != nil {
		if errors.Is(e.Err, context.DeadlineExceeded) {
			return KindTimeout
		}
		var netErr net.Error
		if errors.As(e.Err, &netErr) && netErr.Timeout() {
			return KindTimeout
		}
	}
	return KindTransport
}

// CircuitOpenError is returned when a breaker rejects an attempt. It is
// never retryable. Last holds the operation error that preceded the
// rejection, if the rejection happened mid-retry.
type CircuitOpenError struct {
	Operation  string
	RetryAfter time.Duration
	Last       error
}

func (e *CircuitOpenError) Error() string {
	msg := fmt.Sprintf("resilience: circuit breaker open for %q", e.Operation)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter.Round(time.Millisecond))
	}
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *CircuitOpenError) Unwrap() error   { return e.Last }
func (e *CircuitOpenError) Is(t error) bool { return t == ErrCircuitOpen }
func (e *CircuitOpenError) Kind() ErrorKind { return KindCircuitOpen }
func (e *CircuitOpenError) Retryable() bool { return false }

// AllAttemptsExhaustedError is returned when every attempt failed.
// errors.Is and errors.As reach the last attempt's error.
type AllAttemptsExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *AllAttemptsExhaustedError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Last)
	}
	return fmt.Sprintf("%s: all %d attempts failed: %v", e.Operation, e.Attempts, e.Last)
}

func (e *AllAttemptsExhaustedError) Unwrap() error   { return e.Last }
func (e *AllAttemptsExhaustedError) Is(t error) bool { return t == ErrMaxRetriesExceeded }
func (e *AllAttemptsExhaustedError) Kind() ErrorKind { return KindOf(e.Last) }
