// Package apperrors defines the code-typed errors shared by the approval
// workflow engine. Every error returned across a service boundary carries a
// Code so the HTTP layer can map it to a status without string matching.
package apperrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for transport mapping and logging.
type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeConflict     Code = "CONFLICT"
	CodeNotFound     Code = "NOT_FOUND"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeInternal     Code = "INTERNAL"
)

// Error is a code-typed error. It wraps an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an existing error with a code and message.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return Newf(CodeNotFound, "%s not found: %s", resource, id)
}

// InvalidInput reports a malformed or missing input field.
func InvalidInput(field, message string) *Error {
	return Newf(CodeValidation, "invalid %s: %s", field, message)
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal
// when the error is untyped.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Workflow engine errors. Services return these sentinels (optionally wrapped
// with %w) so callers can branch with errors.Is.
var (
	// ErrAlreadyPending: a non-terminal approval instance already exists for
	// the entity. Enforced both by pre-check and by the storage layer's
	// single-pending uniqueness constraint.
	ErrAlreadyPending = New(CodeConflict, "an approval instance is already pending for this entity")

	// ErrStageNotActive: the decided stage is not the currently active one.
	ErrStageNotActive = New(CodeConflict, "approval stage is not active")

	// ErrAlreadyDecided: the stage reached a terminal status before this
	// decision arrived.
	ErrAlreadyDecided = New(CodeConflict, "approval stage has already been decided")

	// ErrCommentRequired: a rejection was issued without a comment.
	ErrCommentRequired = New(CodeValidation, "a comment is required when rejecting")

	// ErrUnknownEntityType: no workflow definition exists for the entity type.
	ErrUnknownEntityType = New(CodeValidation, "unknown entity type")

	// ErrRoleMismatch: the acting approver's role does not match the active
	// stage's required role.
	ErrRoleMismatch = New(CodeUnauthorized, "approver role does not match the active stage role")
)
