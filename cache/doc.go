// Package cache holds short-lived rendered responses, such as the JSON
// bodies served by the status endpoints, so that bursts of polling do not
// recompute pool and breaker snapshots.
//
// MemoryCache is an LRU bounded by Policy.MaxEntries with per-entry TTLs.
// Fetch wraps the get-or-load pattern.
package cache
