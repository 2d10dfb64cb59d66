package domain

import "errors"

var (
	// Client input errors.
	ErrInvalidAmount     = errors.New("checkq: invalid amount")
	ErrInvalidCheckClass = errors.New("checkq: invalid check class")
	ErrInvalidStatus     = errors.New("checkq: invalid report status")

	// Transient errors.
	ErrRateLimited      = errors.New("checkq: rate limited")
	ErrStoreUnavailable = errors.New("checkq: store unavailable")

	// Store errors.
	ErrJobNotFound       = errors.New("checkq: job not found")
	ErrInvalidTransition = errors.New("checkq: invalid state transition")
)
