package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports missing or invalid input. It is raised before any
// I/O and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NetworkError reports that the record store or messaging provider could not
// be reached or failed to answer. The operation may be retried.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RejectedUpdate reports that the record store answered but refused the
// request.
type RejectedUpdate struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RejectedUpdate) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: rejected with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: rejected with status %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsRejected reports whether err is or wraps a RejectedUpdate.
func IsRejected(err error) bool {
	var r *RejectedUpdate
	return errors.As(err, &r)
}

// IsNetwork reports whether err is or wraps a NetworkError.
func IsNetwork(err error) bool {
	var n *NetworkError
	return errors.As(err, &n)
}
