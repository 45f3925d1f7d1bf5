package cache

import "errors"

// Sentinel errors forming the error taxonomy: NotInit, NotFound,
// ParamError, RemoveError, CacheError. Backend-specific errors are
// wrapped with fmt.Errorf("%w", ...) so callers can still errors.Is
// against these.
var (
	// ErrNotInit indicates the cache (or a required store) was used
	// before Open completed successfully.
	ErrNotInit = errors.New("cache: not initialized")

	// ErrNotFound indicates an unknown store backend name or model scope.
	ErrNotFound = errors.New("cache: not found")

	// ErrParam indicates a request-level validation failure: length
	// mismatches, an invalid threshold, a missing required field.
	ErrParam = errors.New("cache: invalid parameter")

	// ErrRemove indicates a remove/truncate operation failed on at least
	// one tier.
	ErrRemove = errors.New("cache: remove failed")

	// ErrCache is the generic fallback for core failures that don't fit
	// a more specific category.
	ErrCache = errors.New("cache: internal error")
)
