// Package errors consolidates error definitions for the bwmon service.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions (validation / auth / storage / no-data)
// - HTTP status mapping for the transport layer
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Validation errors - the inbound payload is malformed or incomplete.
	ErrInvalidReport = errors.New("invalid report payload")
	ErrMissingField  = errors.New("missing required field")
	ErrInvalidWindow = errors.New("invalid time window")

	// Authorization errors - the sender is not on the allow-list.
	ErrNotAuthorized = errors.New("sender not authorized")

	// No-data conditions. These are legitimate empty results on query
	// paths, distinct from storage failures.
	ErrNoData         = errors.New("no data")
	ErrSenderNotFound = errors.New("sender not found")

	// Storage errors - the backing store is unreachable or an operation
	// against it failed.
	ErrStorage = errors.New("storage error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsValidation returns true if err is a payload validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidReport) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidWindow)
}

// IsAuthError returns true if err is an authorization error.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNotAuthorized)
}

// IsNoData returns true if err is a no-data / not-found condition.
func IsNoData(err error) bool {
	return errors.Is(err, ErrNoData) || errors.Is(err, ErrSenderNotFound)
}

// IsStorage returns true if err is a backing-store failure.
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// ============================================================================
// HTTP status mapping
// ============================================================================

// HTTPStatus maps a sentinel error to the HTTP status the transport layer
// should return. Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsAuthError(err):
		return http.StatusForbidden
	case IsNoData(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewStorage wraps a backing-store failure so callers can classify it
// with IsStorage while keeping the driver error in the chain.
func NewStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %v: %w", op, err, ErrStorage)
}

// NewMissingField creates a missing field validation error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}
