package health

import "errors"

var (
	// ErrCheckTimeout indicates a health check did not finish in time.
	ErrCheckTimeout = errors.New("health: check timeout")

	// ErrCheckPanicked indicates a health check panicked.
	ErrCheckPanicked = errors.New("health: check panicked")

	// ErrNotRegistered indicates no check is registered under the name.
	ErrNotRegistered = errors.New("not registered")
)
