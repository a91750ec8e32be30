// Package apperr defines the failure kinds surfaced by search and stats calls.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers and transports.
type Kind string

const (
	// InvalidQuery is an empty or whitespace-only query text.
	InvalidQuery Kind = "invalid_query"
	// InvalidParameter is an out-of-range limit or threshold, or an unknown metric or role.
	InvalidParameter Kind = "invalid_parameter"
	// EncodingFailure means the embedder could not produce a vector.
	EncodingFailure Kind = "encoding_failure"
	// StoreUnavailable means a round-trip to the vector store failed.
	StoreUnavailable Kind = "store_unavailable"
	// DimensionMismatch means stored embeddings and the embedder disagree on dimension.
	DimensionMismatch Kind = "dimension_mismatch"
	// Internal is anything not covered above.
	Internal Kind = "internal"
)

// Retryable reports whether a failure of this kind may succeed on a second attempt.
func (k Kind) Retryable() bool {
	return k == StoreUnavailable
}

// Error is a classified failure with an optional cause.
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

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so sentinel comparisons work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// New returns a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause under kind. A nil cause returns nil.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Message returns the caller-facing message of err. Store failures get a generic
// message so outages are not confused with empty results or leak connection details.
func Message(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	if e.Kind == StoreUnavailable {
		return "vector store temporarily unavailable, retry later"
	}
	return e.Message
}
