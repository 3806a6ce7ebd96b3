package proxypool

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidSpec is returned by ParseSpec for malformed proxy specs.
var ErrInvalidSpec = errors.New("invalid proxy spec")

// DefaultProtocol is used when a spec carries no scheme.
const DefaultProtocol = "http"

var supportedProtocols = []string{"http", "https", "socks5", "socks5h"}

// Endpoint is a single upstream proxy.
//
// The exported fields are immutable after ParseSpec. Runtime health state is
// owned by the Pool and only read or written under the pool mutex.
type Endpoint struct {
	Host     string
	Port     int
	Username string
	Password string
	Protocol string

	healthy          bool
	successCount     int
	failureCount     int
	lastResponseTime time.Duration
	lastUsedAt       time.Time
	lastCheckedAt    time.Time
}

// ParseSpec parses "[scheme://]host:port:user:pass".
func ParseSpec(spec string) (*Endpoint, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSpec)
	}

	protocol := DefaultProtocol
	if scheme, rest, ok := strings.Cut(s, "://"); ok {
		protocol = strings.ToLower(scheme)
		s = rest
		if !slices.Contains(supportedProtocols, protocol) {
			return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSpec, scheme)
		}
	}

	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: want host:port:user:pass, got %d fields", ErrInvalidSpec, len(parts))
	}
	host := strings.TrimSpace(parts[0])
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrInvalidSpec)
	}
	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: bad port %q", ErrInvalidSpec, parts[1])
	}

	return &Endpoint{
		Host:     host,
		Port:     port,
		Username: parts[2],
		Password: parts[3],
		Protocol: protocol,
		healthy:  true,
	}, nil
}

// Address returns host:port.
func (e *Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String returns host:port. Credentials are never included.
func (e *Endpoint) String() string {
	return e.Address()
}

// URL returns the proxy URL including credentials.
func (e *Endpoint) URL() *url.URL {
	u := &url.URL{Scheme: e.Protocol, Host: e.Address()}
	if e.Username != "" || e.Password != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u
}

// successRate is 1.0 until the endpoint has been used.
func (e *Endpoint) successRate() float64 {
	total := e.successCount + e.failureCount
	if total == 0 {
		return 1.0
	}
	return float64(e.successCount) / float64(total)
}

// EndpointStats is a point-in-time copy of one endpoint's state.
type EndpointStats struct {
	Host             string    `json:"host"`
	Port             int       `json:"port"`
	Protocol         string    `json:"protocol"`
	Healthy          bool      `json:"healthy"`
	SuccessRate      float64   `json:"success_rate"`
	LastResponseTime float64   `json:"last_response_time_ms"`
	SuccessCount     int       `json:"success_count"`
	FailureCount     int       `json:"failure_count"`
	LastUsedAt       time.Time `json:"last_used_at,omitzero"`
	LastCheckedAt    time.Time `json:"last_checked_at,omitzero"`
}

func (e *Endpoint) stats() EndpointStats {
	return EndpointStats{
		Host:             e.Host,
		Port:             e.Port,
		Protocol:         e.Protocol,
		Healthy:          e.healthy,
		SuccessRate:      e.successRate(),
		LastResponseTime: float64(e.lastResponseTime) / float64(time.Millisecond),
		SuccessCount:     e.successCount,
		FailureCount:     e.failureCount,
		LastUsedAt:       e.lastUsedAt,
		LastCheckedAt:    e.lastCheckedAt,
	}
}
