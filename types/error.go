package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the workflow core.
type ErrorCode string

// Persistence and instantiation error codes
const (
	ErrInstantiationConflict ErrorCode = "INSTANTIATION_CONFLICT"
	ErrMalformedDocument     ErrorCode = "MALFORMED_DOCUMENT"
	ErrUnknownConstruct      ErrorCode = "UNKNOWN_CONSTRUCT"
	ErrUnknownLeafType       ErrorCode = "UNKNOWN_LEAF_TYPE"
)

// Tree and render error codes
const (
	ErrNodeNotFound    ErrorCode = "NODE_NOT_FOUND"
	ErrInvalidTree     ErrorCode = "INVALID_TREE"
	ErrSubmitDirExists ErrorCode = "SUBMIT_DIR_EXISTS"
	ErrRenderFailed    ErrorCode = "RENDER_FAILED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	// Path is the on-disk location or logical tree path the error refers to.
	Path  string `json:"path,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithPath records the path the error refers to.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether any error in err's chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}
