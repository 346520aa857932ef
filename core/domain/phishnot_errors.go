package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrDuplicate          = errors.New("duplicate entry")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")

	// ErrClassifierUnavailable means the external scorer could not answer.
	ErrClassifierUnavailable = errors.New("classifier unavailable")
)
