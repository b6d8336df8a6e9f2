package domain

import "errors"

var (
	// ErrNotFound covers absent rows and rows not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrConflict means the ticket is locked or already reserved by
	// another holder. Not a fault; the caller may retry or pick another.
	ErrConflict = errors.New("conflict")
	// ErrExpired means the reservation deadline passed before confirm.
	ErrExpired = errors.New("reservation expired")
	// ErrUnavailable marks transient store failures worth retrying.
	ErrUnavailable          = errors.New("store unavailable")
	ErrSerializationFailure = errors.New("serialization failure")
	ErrInvalidInput         = errors.New("invalid input")
)
