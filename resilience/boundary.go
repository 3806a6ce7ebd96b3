package resilience

import (
	"errors"
	"time"

	"github.com/jonwraymond/netguard/observe"
)

// Severity grades a recorded failure.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText renders the severity name in JSON.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SeverityOf grades err by kind. Configuration problems are critical, an open
// circuit is high, cancellation is low and everything else is medium.
func SeverityOf(err error) Severity {
	var exhausted *AllAttemptsExhaustedError
	switch {
	case err == nil:
		return SeverityLow
	case errors.As(err, &exhausted):
		return SeverityHigh
	}

	switch KindOf(err) {
	case KindConfiguration:
		return SeverityCritical
	case KindCircuitOpen:
		return SeverityHigh
	case KindCanceled:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// ErrorContext describes one recorded failure.
type ErrorContext struct {
	Operation  string         `json:"operation"`
	Component  string         `json:"component"`
	Severity   Severity       `json:"severity"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Err        error          `json:"-"`
}

// NewErrorContext returns a context with medium severity, no retries used
// out of three, and the current time.
func NewErrorContext(operation, component string) ErrorContext {
	return ErrorContext{
		Operation:  operation,
		Component:  component,
		Severity:   SeverityMedium,
		MaxRetries: 3,
		Timestamp:  time.Now(),
		Metadata:   make(map[string]any),
	}
}

// Kind returns the kind of the recorded error.
func (ec ErrorContext) Kind() ErrorKind {
	return KindOf(ec.Err)
}

// Fields renders the context as log fields.
func (ec ErrorContext) Fields() []observe.Field {
	fields := []observe.Field{
		observe.F("operation", ec.Operation),
		observe.F("component", ec.Component),
		observe.F("severity", ec.Severity.String()),
		observe.F("kind", string(ec.Kind())),
		observe.F("retry_count", ec.RetryCount),
		observe.F("max_retries", ec.MaxRetries),
		observe.Err(ec.Err),
	}
	for k, v := range ec.Metadata {
		fields = append(fields, observe.F(k, v))
	}
	return fields
}
