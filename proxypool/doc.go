// Package proxypool rotates outbound HTTP requests across a fixed set of
// upstream proxies.
//
// A Pool tracks per-endpoint success and failure counts and keeps a healthy
// subset for rotation. An endpoint leaves the subset once its success rate
// drops below 50% after more than three failures, and rejoins on its next
// success. Start runs a periodic sweep that probes every endpoint through
// itself; CheckHealth runs one on demand.
//
// A Session issues requests through the pool, moving to the next proxy on
// every failed attempt:
//
//	pool, err := proxypool.New(specs, proxypool.Config{Logger: logger})
//	if err != nil {
//		return err
//	}
//	pool.Start()
//	defer pool.Close()
//
//	session := proxypool.NewSession(pool, proxypool.SessionConfig{})
//	resp, err := session.Get(ctx, "https://example.com/", nil)
package proxypool
