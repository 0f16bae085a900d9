// Package apperr defines the named error kinds shared across the database
// core. Side-effecting components (store, cursor, aggregate, auth) wrap
// failures in an *Error carrying one of these kinds instead of returning
// arbitrary Go error types across component boundaries.
package apperr

import "fmt"

// Kind identifies the category of a failure. Kinds are named, not typed,
// so they travel cleanly through the structured result envelopes
// (QueryResult, CursorResult, PipelineResult) that cross component
// boundaries.
type Kind string

const (
	NotFound                 Kind = "NotFound"
	DuplicateId               Kind = "DuplicateId"
	DuplicateKey               Kind = "DuplicateKey"
	InvalidArgument            Kind = "InvalidArgument"
	InvalidProjection          Kind = "InvalidProjection"
	AggregationStageException Kind = "AggregationStageException"
	CursorNotFound             Kind = "CursorNotFound"
	CursorExpired              Kind = "CursorExpired"
	InvalidToken               Kind = "InvalidToken"
	TokenExpired               Kind = "TokenExpired"
	InsufficientPermission    Kind = "InsufficientPermission"
	StorageIoError              Kind = "StorageIoError"
	AlreadyDisposed            Kind = "AlreadyDisposed"
	Cancelled                  Kind = "Cancelled"
	SchemaValidationFailed     Kind = "SchemaValidationFailed"
)

// Error is the structured failure value returned by core components.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	ae, ok := err.(*Error)
	if !ok {
		return false
	}
	return ae.Kind == kind
}

// KindOf extracts the Kind from err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	ae, ok := err.(*Error)
	if !ok {
		return ""
	}
	return ae.Kind
}
