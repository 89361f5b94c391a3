// Package memerr defines the typed error kinds surfaced by the memory store's
// core subsystems. Callers at the tool boundary inspect these with errors.Is/As
// instead of matching on message text.
package memerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories the core can raise.
type Kind string

const (
	InvalidArgument      Kind = "invalid_argument"
	NotFound             Kind = "not_found"
	StorageUnavailable   Kind = "storage_unavailable"
	EmbeddingUnavailable Kind = "embedding_unavailable"
	ParseError           Kind = "parse_error"
	MethodNotFound       Kind = "method_not_found"
	Conflict             Kind = "conflict"
)

// Error wraps an underlying cause with a Kind so callers can branch on category
// without parsing the message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error around an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err carries the given Kind, unwrapping through any
// %w-wrapping chain to find it.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
