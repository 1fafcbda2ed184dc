package auth

import (
	"errors"
	"fmt"
	"time"
)

// Credential and session errors.
var (
	// ErrAuthenticationFailed indicates the backend rejected the supplied
	// credentials. Not retryable without new user input.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrTwoFactorRequired indicates the out-of-band code was missing or
	// invalid. Recoverable by obtaining a new code and resuming.
	ErrTwoFactorRequired = errors.New("two-factor code required")

	// ErrAccountNotActive indicates login succeeded at the HTTP level but
	// the account state forbids a session.
	ErrAccountNotActive = errors.New("account not active")

	// ErrSessionExpired indicates the session is no longer usable and no
	// stored credentials are available to re-authenticate.
	ErrSessionExpired = errors.New("session expired")

	// ErrRateLimited indicates the backend throttled the request.
	// Retryable after the server-indicated delay.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotPaired indicates an operation that requires a paired device
	// identity was attempted before pairing completed.
	ErrNotPaired = errors.New("device not paired")

	// ErrNoIdentity indicates no device identity has been generated or
	// loaded.
	ErrNoIdentity = errors.New("no device identity")

	// ErrPairingState indicates a pairing operation was called in the
	// wrong state.
	ErrPairingState = errors.New("invalid pairing state")
)

// RateLimitedError carries the server-indicated retry delay of an HTTP
// 429 response. It unwraps to ErrRateLimited.
type RateLimitedError struct {
	// RetryAfter is how long the server asked us to wait. Zero when the
	// response carried no Retry-After header.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// Unwrap makes the error match ErrRateLimited via errors.Is.
func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// Retryable reports whether err is transient and may be retried without
// new user input (automatically after any indicated delay).
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
