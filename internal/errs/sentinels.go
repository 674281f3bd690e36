// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrJobNameConflict indicates a generated register job name is already taken.
	ErrJobNameConflict = errors.New("register job name already exists")

	// ErrActiveJobExists indicates another active job already covers a requested licensing authority.
	ErrActiveJobExists = errors.New("active register job exists for licensing authority")

	// ErrInvalidArgument indicates a violated precondition on caller input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")
)
