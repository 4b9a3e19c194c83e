// Package errors provides error handling for storytest.
//
// It re-exports github.com/cockroachdb/errors so that every package wraps,
// annotates and inspects errors the same way:
//
//	if err := client.Authenticate(ctx); err != nil {
//	    return errors.Wrap(err, "xray authentication")
//	}
//
//	if errors.Is(err, errors.ErrUnauthorized) {
//	    // credentials rejected
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Sentinel errors shared by the HTTP clients.
// Wrap them with errors.Wrap() to add context while preserving errors.Is().
var (
	// ErrNotFound indicates the requested issue, job or file does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the remote service rejected the payload
	ErrInvalidRequest = New("invalid request")

	// ErrUnauthorized indicates missing or rejected credentials
	ErrUnauthorized = New("unauthorized")

	// ErrServiceUnavailable indicates the remote service is down or overloaded
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = New("operation timed out")

	// ErrNotConfigured indicates a required credential or endpoint is missing
	ErrNotConfigured = New("not configured")
)

// IsUnauthorized reports whether err is or wraps ErrUnauthorized
func IsUnauthorized(err error) bool {
	return err != nil && Is(err, ErrUnauthorized)
}

// IsNotFound reports whether err is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequest reports whether err is or wraps ErrInvalidRequest
func IsInvalidRequest(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// NewNotConfiguredError reports a missing configuration value with a hint
// naming the key that must be set.
func NewNotConfiguredError(key string) error {
	return WithHintf(Wrapf(ErrNotConfigured, "%s is empty", key),
		"set %s in storytest.toml or the matching STORYTEST_ environment variable", key)
}
