package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode identifies the failure class surfaced to callers.
type ErrorCode string

const (
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeReferenceConflict ErrorCode = "REFERENCE_CONFLICT"
	CodeContentConflict   ErrorCode = "CONTENT_CONFLICT"
	CodeAlreadyExists     ErrorCode = "ALREADY_EXISTS"
	CodeInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
	CodeUnavailable       ErrorCode = "UNAVAILABLE"
	CodeInternal          ErrorCode = "INTERNAL"
	CodeDeadlineExceeded  ErrorCode = "DEADLINE_EXCEEDED"
)

// Retryable reports whether callers may retry the failed call unchanged.
func (c ErrorCode) Retryable() bool {
	return c == CodeUnavailable
}

func statusFor(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeReferenceConflict, CodeContentConflict, CodeAlreadyExists:
		return 409
	case CodeInvalidArgument:
		return 400
	case CodeUnavailable:
		return 503
	case CodeDeadlineExceeded:
		return 504
	default:
		return 500
	}
}

// ConflictKind classifies one per-key conflict inside an aggregate failure.
type ConflictKind string

const (
	ConflictKeyExists       ConflictKind = "KEY_EXISTS"
	ConflictKeyDoesNotExist ConflictKind = "KEY_DOES_NOT_EXIST"
	ConflictPayloadDiffers  ConflictKind = "PAYLOAD_DIFFERS"
	ConflictTypeDiffers     ConflictKind = "TYPE_DIFFERS"
	ConflictValueDiffers    ConflictKind = "VALUE_DIFFERS"
	ConflictUnexpectedHash  ConflictKind = "UNEXPECTED_HASH"
)

// Conflict is one keyed violation detected during commit or merge.
type Conflict struct {
	Key     Key
	Kind    ConflictKind
	Message string
}

func (c Conflict) String() string {
	if c.Message != "" {
		return fmt.Sprintf("%s %s: %s", c.Kind, c.Key, c.Message)
	}
	return fmt.Sprintf("%s %s", c.Kind, c.Key)
}

// Error is the structured failure carried across the service boundary.
// Conflicts are always aggregated; a commit never fails on the first
// violated requirement alone.
type Error struct {
	Code      ErrorCode
	Status    int
	Reason    string
	Message   string
	Conflicts []Conflict

	cause error
}

// NewError builds a coded error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Status: statusFor(code), Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code to an underlying error.
func WrapError(code ErrorCode, cause error, format string, args ...any) *Error {
	e := NewError(code, format, args...)
	e.cause = cause
	return e
}

// WithReason sets the short machine-readable reason.
func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

// WithConflicts attaches the aggregated per-key conflicts.
func (e *Error) WithConflicts(conflicts ...Conflict) *Error {
	e.Conflicts = append(e.Conflicts, conflicts...)
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Reason != "" {
		b.WriteString(" (")
		b.WriteString(e.Reason)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	for _, c := range e.Conflicts {
		b.WriteString("; ")
		b.WriteString(c.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the error code, defaulting to Internal for uncoded errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsReferenceConflict reports whether err carries CodeReferenceConflict.
func IsReferenceConflict(err error) bool {
	return CodeOf(err) == CodeReferenceConflict
}

// IsContentConflict reports whether err carries CodeContentConflict.
func IsContentConflict(err error) bool {
	return CodeOf(err) == CodeContentConflict
}

// IsAlreadyExists reports whether err carries CodeAlreadyExists.
func IsAlreadyExists(err error) bool {
	return CodeOf(err) == CodeAlreadyExists
}

// ConflictsOf returns the aggregated conflicts carried by err, if any.
func ConflictsOf(err error) []Conflict {
	var e *Error
	if errors.As(err, &e) {
		return e.Conflicts
	}
	return nil
}
