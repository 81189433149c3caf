// Package kverr defines the error taxonomy shared by every kvq package.
//
// Not-found is never an error: a fetch that finds nothing returns an empty
// sibling set, and deleting a missing key succeeds. Nothing in kvq retries;
// callers decide whether a Transport error is worth another attempt.
package kverr

import (
	"errors"
	"fmt"
)

// Code categorizes errors.
type Code string

const (
	// CodeConflict indicates a stale or malformed causality token on store,
	// or a secondary index value that does not match its declared type.
	CodeConflict Code = "CONFLICT"

	// CodeMalformedResponse indicates a response body that does not match the
	// wire shape expected for the operation.
	CodeMalformedResponse Code = "MALFORMED_RESPONSE"

	// CodeTransport indicates a network failure or an unexpected status code.
	CodeTransport Code = "TRANSPORT"

	// CodeValidation indicates an illegal combination supplied by the caller.
	CodeValidation Code = "VALIDATION"
)

// Error is the single error type surfaced by kvq operations.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the failing operation ("fetch", "store", "compile", ...).
	Op string

	// Message is a human-readable description.
	Message string

	// Status and Body carry the server response for Transport errors.
	Status int
	Body   []byte

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status=%d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Conflict creates a CodeConflict error.
func Conflict(op, format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Malformed creates a CodeMalformedResponse error wrapping cause.
func Malformed(op string, cause error, format string, args ...any) *Error {
	return &Error{Code: CodeMalformedResponse, Op: op, Message: fmt.Sprintf(format, args...), Err: cause}
}

// Validation creates a CodeValidation error.
func Validation(op, format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Transport wraps a network-level failure.
func Transport(op string, cause error) *Error {
	return &Error{Code: CodeTransport, Op: op, Message: "request failed", Err: cause}
}

// Status creates a CodeTransport error for an unexpected status code.
func Status(op string, status int, body []byte) *Error {
	return &Error{
		Code:    CodeTransport,
		Op:      op,
		Message: "unexpected status",
		Status:  status,
		Body:    body,
	}
}

// CodeOf returns the Code of err, or "" when err is not a kvq error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsMalformed reports whether err is a malformed response error.
func IsMalformed(err error) bool { return CodeOf(err) == CodeMalformedResponse }

// IsTransport reports whether err is a transport error.
func IsTransport(err error) bool { return CodeOf(err) == CodeTransport }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return CodeOf(err) == CodeValidation }
