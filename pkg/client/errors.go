package client

import (
	"errors"
	"fmt"
)

// Kind classifies a failure at the point where it happens so callers can
// branch on it without inspecting message text.
type Kind string

const (
	KindUnauthorized     Kind = "unauthorized"
	KindTransient        Kind = "transient"
	KindExhaustedRetries Kind = "exhausted_retries"
	KindNotFound         Kind = "not_found"
	KindInvalidInput     Kind = "invalid_input"
	KindUnknownTool      Kind = "unknown_tool"
	KindUpstream         Kind = "upstream"
)

// Error carries a Kind plus the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an *Error of the given kind.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
