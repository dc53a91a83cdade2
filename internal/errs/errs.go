package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the caller should react to it.
type Kind string

const (
	Unauthenticated Kind = "unauthenticated"
	Forbidden       Kind = "forbidden"
	NotFound        Kind = "not_found"
	Invalid         Kind = "invalid"
	QuotaExceeded   Kind = "quota_exceeded"
	Conflict        Kind = "conflict"
	Upstream        Kind = "upstream"
)

// GenericMessage is what callers see for upstream failures.
const GenericMessage = "Something went wrong, please try again."

// Error is the one error type returned by services. Message is safe to show
// to end users unless Kind is Upstream; Err keeps the underlying cause.
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

// Public returns the message that may be shown to an end user.
func (e *Error) Public() string {
	if e.Kind == Upstream || e.Message == "" {
		return GenericMessage
	}
	return e.Message
}

// Errorf builds an Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and a public message to an underlying error.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Upstreamf wraps a store or provider failure.
func Upstreamf(err error, format string, args ...any) error {
	return Wrap(Upstream, err, fmt.Sprintf(format, args...))
}

// KindOf reports the kind of err. Errors that did not originate here are
// treated as upstream failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Upstream
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Public returns the user-facing message for any error.
func Public(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Public()
	}
	return GenericMessage
}
