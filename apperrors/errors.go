// Package apperrors defines coded errors shared across the gateway.
package apperrors

import (
	"errors"
	"fmt"
)

// Standard error codes for the application.
const (
	CodeUnknown    = "UNKNOWN"
	CodeFetch      = "FETCH"
	CodeConfig     = "CONFIG"
	CodeValidation = "VALIDATION"
	CodeTransport  = "TRANSPORT"
	CodeStorage    = "STORAGE"
)

// ApplicationError is implemented by every coded error.
type ApplicationError interface {
	error
	Code() string
	Unwrap() error
}

// Error is the concrete coded error.
type Error struct {
	code    string
	message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.message
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Unwrap() error {
	return e.err
}

// New builds a coded error wrapping cause (which may be nil).
func New(code, message string, cause error) error {
	return &Error{code: code, message: message, err: cause}
}

// Code returns the code of the first ApplicationError in err's chain,
// or CodeUnknown if there is none.
func Code(err error) string {
	var appErr ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}
	return CodeUnknown
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return err != nil && Code(err) == code
}

func NewFetchError(message string, cause error) error {
	return New(CodeFetch, message, cause)
}

func NewConfigError(message string, cause error) error {
	return New(CodeConfig, message, cause)
}

func NewValidationError(message string, cause error) error {
	return New(CodeValidation, message, cause)
}

func NewTransportError(message string, cause error) error {
	return New(CodeTransport, message, cause)
}

func NewStorageError(message string, cause error) error {
	return New(CodeStorage, message, cause)
}
