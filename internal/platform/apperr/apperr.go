// Package apperr provides the unified error taxonomy for the engine.
package apperr

import (
	"errors"
	"fmt"
)

// Category is the closed set of error categories every tool-facing failure
// must map to.
type Category string

const (
	InvalidParams Category = "InvalidParams"
	Denied        Category = "Denied"
	NotFound      Category = "NotFound"
	Conflict      Category = "Conflict"
	Retryable     Category = "Retryable"
	Timeout       Category = "Timeout"
	Internal      Category = "Internal"
)

// ToolError is the single failure channel for every public API in the engine.
type ToolError struct {
	Category Category               `json:"category"`
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Hint     string                 `json:"hint,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Err      error                  `json:"-"`
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Category, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Category, e.Code, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Err }

// WithDetails attaches a structured detail entry and returns the receiver.
func (e *ToolError) WithDetails(key string, value interface{}) *ToolError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithHint attaches a hint and returns the receiver.
func (e *ToolError) WithHint(hint string) *ToolError {
	e.Hint = hint
	return e
}

// New creates a ToolError with no wrapped cause.
func New(cat Category, code, message string) *ToolError {
	return &ToolError{Category: cat, Code: code, Message: message}
}

// Wrap creates a ToolError wrapping an existing error.
func Wrap(cat Category, code, message string, err error) *ToolError {
	return &ToolError{Category: cat, Code: code, Message: message, Err: err}
}

// As extracts a *ToolError from an error chain.
func As(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// CategoryOf returns the category of err, defaulting to Internal when err is
// not (or does not wrap) a *ToolError.
func CategoryOf(err error) Category {
	if te, ok := As(err); ok {
		return te.Category
	}
	return Internal
}

// Convenience constructors, one per category, mirroring the helper style of
// the teacher's error package (New/Wrap per domain concern).

func InvalidParam(field, reason string) *ToolError {
	return New(InvalidParams, "invalid_param", "invalid parameter").
		WithDetails("field", field).WithDetails("reason", reason)
}

func MissingParam(param string) *ToolError {
	return New(InvalidParams, "missing_param", "missing required parameter").
		WithDetails("parameter", param)
}

func DeniedErr(message string) *ToolError {
	return New(Denied, "denied", message)
}

func NotFoundErr(resource, id string) *ToolError {
	return New(NotFound, "not_found", "resource not found").
		WithDetails("resource", resource).WithDetails("id", id)
}

func ConflictErr(message string) *ToolError {
	return New(Conflict, "conflict", message)
}

func RetryableErr(message string, err error) *ToolError {
	return Wrap(Retryable, "retryable", message, err)
}

func TimeoutErr(operation string) *ToolError {
	return New(Timeout, "timeout", "operation timed out").
		WithDetails("operation", operation)
}

func InternalErr(message string, err error) *ToolError {
	return Wrap(Internal, "internal", message, err)
}

// Normalize wraps any foreign error into an Internal ToolError unless it already
// is one, per the dispatcher's "unhandled manager errors wrapped to the
// taxonomy" propagation policy (spec §7).
func Normalize(err error) *ToolError {
	if err == nil {
		return nil
	}
	if te, ok := As(err); ok {
		return te
	}
	return InternalErr(err.Error(), err)
}
