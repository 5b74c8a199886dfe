// Package domainerrors defines the tagged error type every public operation
// returns. Stores report infrastructure facts via pkg/platform/sentinel;
// services translate those facts into one of these coded errors so handlers
// can map them to HTTP statuses without inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a domain error.
type Code string

const (
	// CodeValidation marks malformed input rejected before any write:
	// bad identifier grammar, out-of-range scores, missing required fields.
	CodeValidation Code = "validation_error"
	// CodeConflict marks duplicate creation attempts. No partial state is left behind.
	CodeConflict Code = "conflict"
	// CodeNotFound marks operations against a case or rule that does not exist.
	CodeNotFound Code = "not_found"
	// CodeBadRequest marks transport-level request problems (undecodable body,
	// missing parameters) before domain validation runs.
	CodeBadRequest Code = "bad_request"
	// CodeInternal marks unexpected failures. Descriptions are not exposed to callers.
	CodeInternal Code = "internal_error"
	// CodeUnavailable marks an underlying store failure propagated to the caller.
	// Retry/backoff belongs to store adapters, not to this core.
	CodeUnavailable Code = "store_unavailable"
)

// Error is a coded domain error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a coded error with no cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error while preserving
// the chain for errors.Is / errors.As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		if err == nil {
			return false
		}
	}
	return false
}

// CodeOf extracts the outermost code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf extracts the outermost message from err. Empty when err is not coded.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}

// ToHTTPStatus maps a code to its transport status.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBadRequest:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
