// Package auth guards the operator endpoints of the status server.
//
// Two credential types are supported: static API keys, stored as SHA-256
// hashes, and HMAC-signed JWTs. A CompositeAuthenticator tries each in turn
// and Middleware turns the outcome into 401/403 responses.
package auth
