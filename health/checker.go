package health

import (
	"context"
	"encoding/json"
	"time"
)

// Status represents the health status of a component.
type Status int

const (
	// StatusHealthy indicates the component is functioning normally.
	StatusHealthy Status = iota
	// StatusDegraded indicates the component works with reduced capacity.
	StatusDegraded
	// StatusUnhealthy indicates the component is not functioning.
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result contains the outcome of a health check.
type Result struct {
	Status    Status
	Message   string
	Details   map[string]any
	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

// Healthy creates a healthy result.
func Healthy(message string) Result {
	return Result{Status: StatusHealthy, Message: message, Timestamp: time.Now()}
}

// Degraded creates a degraded result.
func Degraded(message string) Result {
	return Result{Status: StatusDegraded, Message: message, Timestamp: time.Now()}
}

// Unhealthy creates an unhealthy result.
func Unhealthy(message string, err error) Result {
	return Result{Status: StatusUnhealthy, Message: message, Error: err, Timestamp: time.Now()}
}

// WithDetails adds details to a result.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// IsHealthy reports whether the component is usable. Degraded counts as usable.
func (r Result) IsHealthy() bool {
	return r.Status != StatusUnhealthy
}

// ErrorMessage returns the error text, or the message for unhealthy results
// without an error.
func (r Result) ErrorMessage() string {
	if r.Error != nil {
		return r.Error.Error()
	}
	if r.Status == StatusUnhealthy {
		return r.Message
	}
	return ""
}

type resultJSON struct {
	Healthy    bool           `json:"healthy"`
	Status     Status         `json:"status"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS float64        `json:"duration_ms"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
}

// MarshalJSON renders the result with a boolean healthy flag and the error text.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Healthy:    r.IsHealthy(),
		Status:     r.Status,
		Message:    r.Message,
		Error:      r.ErrorMessage(),
		DurationMS: float64(r.Duration.Microseconds()) / 1000,
		Timestamp:  r.Timestamp,
		Details:    r.Details,
	})
}

// CheckFunc reports the health of one component. A returned error marks the
// component unhealthy regardless of the returned Result.
type CheckFunc func(ctx context.Context) (Result, error)

// PingCheck adapts a function that only reports reachability.
func PingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) (Result, error) {
		if err := ping(ctx); err != nil {
			return Result{}, err
		}
		return Healthy("reachable"), nil
	}
}
