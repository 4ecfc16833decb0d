package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden marks a caller that is authenticated but not allowed.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrConflict marks uniqueness violations and lost compare-and-swap writes.
	ErrConflict = errors.New("conflict")
	// ErrLimitReached marks a per-user quota that is already used up.
	ErrLimitReached = errors.New("limit reached")
	// ErrNotReady marks a resource whose background processing has not completed.
	ErrNotReady = errors.New("not ready")
)
