// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers. The HTTP boundary is the only
// place that maps these onto status codes.
var (
	// ErrInvalidCredentials covers both unknown email and wrong password on login.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken covers malformed, expired, revoked and owner-mismatched
	// tokens alike; external callers never learn which check failed.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrConflict indicates a unique constraint violation (e.g., email taken,
	// refresh token string collision).
	ErrConflict = errors.New("already exists")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthenticated indicates a protected call without valid claims.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden indicates authenticated claims lacking a required role.
	ErrForbidden = errors.New("forbidden")

	// ErrUnavailable indicates a store or signing backend timeout; retryable.
	ErrUnavailable = errors.New("temporarily unavailable")
)
