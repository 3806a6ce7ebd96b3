package proxypool

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/jonwraymond/netguard/observe"
)

const probeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// DefaultHeaders are sent with every session request unless overridden.
var DefaultHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"Upgrade-Insecure-Requests": "1",
	"Cache-Control":             "max-age=0",
}

// client returns the HTTP client bound to e, creating it on first use.
// Clients are kept per endpoint so each proxy keeps its own connection pool.
func (p *Pool) client(e *Endpoint) *resty.Client {
	p.clientMu.Lock()
	defer p.clientMu.Unlock()

	if c, ok := p.clients[e]; ok {
		return c
	}
	c := resty.New().
		SetProxy(e.URL().String()).
		SetLogger(restyLogger{logger: p.logger.With(observe.F("proxy", e.Address()))}).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	p.clients[e] = c
	return c
}

// restyLogger routes resty's internal logging into the observe logger at
// debug level. Request failures are logged by the callers.
type restyLogger struct {
	logger observe.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.logger.Debug(context.Background(), fmt.Sprintf(format, v...), observe.F("source", "resty"))
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.logger.Debug(context.Background(), fmt.Sprintf(format, v...), observe.F("source", "resty"))
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.logger.Debug(context.Background(), fmt.Sprintf(format, v...), observe.F("source", "resty"))
}
