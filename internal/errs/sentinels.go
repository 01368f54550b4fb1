// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across client layers.
var (
	// ErrNotFound indicates the requested entity (or persisted slot) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the server rejected the credential (HTTP 401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation indicates input rejected before any network call.
	ErrValidation = errors.New("validation")

	// ErrBusy indicates a second submit while one is still pending.
	ErrBusy = errors.New("request already in flight")

	// ErrTransport indicates timeout, unreachable network or an undecodable response.
	ErrTransport = errors.New("transport failure")

	// ErrCorrupt indicates a persisted record that cannot be read back.
	ErrCorrupt = errors.New("corrupt record")

	// ErrDiscarded indicates a response that arrived after the caller lost interest.
	ErrDiscarded = errors.New("response discarded")
)
