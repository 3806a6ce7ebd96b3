package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
)

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string   { return "i/o timeout" }
func (timeoutNetErr) Timeout() bool   { return true }
func (timeoutNetErr) Temporary() bool { return true }

var _ net.Error = timeoutNetErr{}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("x"), KindUnknown},
		{"transport", &TransportError{Method: "GET", URL: "u", StatusCode: 502}, KindTransport},
		{"transport timeout", &TransportError{Method: "GET", URL: "u", Err: context.DeadlineExceeded}, KindTimeout},
		{"wrapped transport", fmt.Errorf("search: %w", &TransportError{Method: "GET", URL: "u"}), KindTransport},
		{"circuit open", &CircuitOpenError{Operation: "x"}, KindCircuitOpen},
		{"configuration", &ConfigurationError{Field: "proxies"}, KindConfiguration},
		{"canceled", context.Canceled, KindCanceled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"resilience timeout", ErrTimeout, KindTimeout},
		{"net timeout", timeoutNetErr{}, KindTimeout},
		{"exhausted delegates", &AllAttemptsExhaustedError{Attempts: 3, Last: &TransportError{}}, KindTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), true},
		{"transport", &TransportError{}, true},
		{"circuit open", &CircuitOpenError{}, false},
		{"configuration", &ConfigurationError{}, true},
		{"canceled", context.Canceled, true},
		{"wrapped circuit open", fmt.Errorf("fetch: %w", &CircuitOpenError{}), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	te := &TransportError{Method: "GET", URL: "http://x/", Proxy: "10.0.0.1:8080", StatusCode: 403}
	if got := te.Error(); got != "GET http://x/: status 403 via 10.0.0.1:8080" {
		t.Errorf("TransportError.Error() = %q", got)
	}

	ce := &ConfigurationError{Field: "proxies", Reason: "no valid proxy specs"}
	if !errors.Is(ce, ErrConfiguration) {
		t.Error("ConfigurationError should match ErrConfiguration")
	}
	if !strings.Contains(ce.Error(), "no valid proxy specs") {
		t.Errorf("ConfigurationError.Error() = %q", ce.Error())
	}

	ex := &AllAttemptsExhaustedError{Operation: "fetch", Attempts: 3, Last: te}
	if !strings.HasPrefix(ex.Error(), "fetch: all 3 attempts failed") {
		t.Errorf("AllAttemptsExhaustedError.Error() = %q", ex.Error())
	}
}

func TestSeverityOf(t *testing.T) {
	tests := []struct {
		err  error
		want Severity
	}{
		{nil, SeverityLow},
		{errors.New("x"), SeverityMedium},
		{&ConfigurationError{}, SeverityCritical},
		{&CircuitOpenError{}, SeverityHigh},
		{&AllAttemptsExhaustedError{Last: errors.New("x")}, SeverityHigh},
		{context.Canceled, SeverityLow},
	}
	for _, tt := range tests {
		if got := SeverityOf(tt.err); got != tt.want {
			t.Errorf("SeverityOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestNewErrorContext_Defaults(t *testing.T) {
	ec := NewErrorContext("upload", "storage")
	if ec.Severity != SeverityMedium || ec.RetryCount != 0 || ec.MaxRetries != 3 {
		t.Errorf("NewErrorContext() = %+v", ec)
	}
	if ec.Metadata == nil || ec.Timestamp.IsZero() {
		t.Error("Metadata and Timestamp must be initialised")
	}
}
