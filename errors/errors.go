// Package errors provides error handling for geovet.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for user-facing messages
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrConfiguration) {
//	    // skip the offending rule, keep the run alive
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	"context"

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
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors for the validation pipeline. Use these with errors.Is()
// for type-safe classification, and errors.Wrap() to add context while
// preserving the class.
var (
	// ErrConfiguration indicates a malformed rule row or stage definition.
	// Policy: skip only the offending rule, record a stage-metadata warning.
	ErrConfiguration = New("configuration error")

	// ErrDataAccess indicates a table or dataset could not be read.
	// Policy: stage-level, governed by the stage's FailureAction.
	ErrDataAccess = New("data access error")

	// ErrTableNotFound indicates the requested table does not exist in the
	// target dataset.
	ErrTableNotFound = New("table not found")

	// ErrCancelled indicates a run was cancelled cooperatively. Results
	// collected before cancellation are preserved.
	ErrCancelled = New("run cancelled")

	// ErrStageFailed indicates a stage exhausted its failure policy
	// (including retries) without completing.
	ErrStageFailed = New("stage failed")
)

// IsConfiguration checks if an error is or wraps ErrConfiguration.
func IsConfiguration(err error) bool {
	return err != nil && Is(err, ErrConfiguration)
}

// IsDataAccess checks if an error is or wraps ErrDataAccess.
func IsDataAccess(err error) bool {
	return err != nil && Is(err, ErrDataAccess)
}

// IsCancelled checks if an error is or wraps ErrCancelled, including a bare
// context.Canceled surfaced from the standard library.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrCancelled) || Is(err, context.Canceled)
}

// NewConfiguration creates a configuration error with a formatted message.
func NewConfiguration(format string, args ...interface{}) error {
	return Wrap(ErrConfiguration, Newf(format, args...).Error())
}

// NewDataAccess creates a data-access error with a formatted message.
func NewDataAccess(format string, args ...interface{}) error {
	return Wrap(ErrDataAccess, Newf(format, args...).Error())
}

// WrapDataAccess wraps an error as a data-access error with formatted
// context.
func WrapDataAccess(err error, format string, args ...interface{}) error {
	return Wrapf(Wrap(ErrDataAccess, err.Error()), format, args...)
}
