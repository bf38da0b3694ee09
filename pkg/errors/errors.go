package errors

import (
	"errors"
	"fmt"
)

// Common application errors with proper types for error handling

var (
	// ErrUnauthorized indicates missing, invalid or expired credentials
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidInput indicates invalid input data
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnavailable indicates the upstream could not be reached
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrNotFound indicates a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates an operation raced with another in-flight one
	ErrConflict = errors.New("conflict")
)

// UnauthorizedError creates an unauthorized error with context
func UnauthorizedError(reason string) error {
	if reason != "" {
		return fmt.Errorf("%s: %w", reason, ErrUnauthorized)
	}
	return ErrUnauthorized
}

// InvalidInputError creates an invalid input error with context
func InvalidInputError(field, reason string) error {
	return fmt.Errorf("%s: %s: %w", field, reason, ErrInvalidInput)
}

// UnavailableError creates an upstream-unavailable error with context
func UnavailableError(msg string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%s: %v: %w", msg, cause, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w", msg, ErrUnavailable)
}

// Is checks if an error matches a target error (works with wrapped errors)
func Is(err, target error) bool {
	return errors.Is(err, target)
}
