package errors

import (
	sterrors "errors"
	"fmt"
)

// Kind classifies an Error so exporters can map it onto a wire signal.
type Kind uint8

const (
	KindOther Kind = iota
	KindBadInput
	KindNotFound
	KindUnauthenticated
	KindForbidden
	KindServerError
	KindNotAvailable
)

func (k Kind) String() string {
	switch k {
	case KindBadInput:
		return "bad_input"
	case KindNotFound:
		return "not_found"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindServerError:
		return "server_error"
	case KindNotAvailable:
		return "not_available"
	default:
		return "other"
	}
}

// MessagePrefix is the human readable prefix used by StandardMessage.
func (k Kind) MessagePrefix() string {
	switch k {
	case KindBadInput:
		return "Bad Input"
	case KindNotFound:
		return "Resource Not Found"
	case KindUnauthenticated:
		return "Unauthenticated"
	case KindForbidden:
		return "Forbidden"
	case KindServerError:
		return "Unexpected Server Error"
	case KindNotAvailable:
		return "Resource Not Available"
	default:
		return "Error"
	}
}

// Error is the protocol agnostic error value produced by the evaluation
// pipeline. Reason is public, Description is meant for operators.
type Error struct {
	Kind        Kind
	Reason      string
	Description string
	cause       error
}

// New returns an Error of the given kind.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Newf formats the reason.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// Wrap returns an Error of the given kind caused by cause. The cause message
// becomes the description.
func Wrap(kind Kind, reason string, cause error) *Error {
	e := &Error{Kind: kind, Reason: reason, cause: cause}
	if cause != nil {
		e.Description = cause.Error()
	}
	return e
}

// BadInput wraps cause as a bad input error.
func BadInput(reason string, cause error) *Error {
	return Wrap(KindBadInput, reason, cause)
}

// WithDescription returns a copy carrying the description.
func (e *Error) WithDescription(description string) *Error {
	clone := *e
	clone.Description = description
	return &clone
}

func (e *Error) Error() string {
	return e.Message(e.Kind.MessagePrefix())
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Message renders the error with an optional prefix.
func (e *Error) Message(prefix string) string {
	body := e.Reason
	switch {
	case e.Reason != "" && e.Description != "":
		body = e.Reason + " (" + e.Description + ")"
	case e.Reason == "":
		body = e.Description
	}
	if prefix == "" {
		return body
	}
	if body == "" {
		return prefix
	}
	return prefix + ": " + body
}

// StandardMessage is the message exporters show to clients.
func (e *Error) StandardMessage() string {
	if e.Reason == "" {
		return e.Kind.MessagePrefix()
	}
	return e.Kind.MessagePrefix() + ": " + e.Reason
}

// Is matches other Errors by kind and reason.
func (e *Error) Is(target error) bool {
	var other *Error
	if !sterrors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && (other.Reason == "" || other.Reason == e.Reason)
}

// As converts any error into an *Error. Errors that are not already typed
// become KindOther with the original message as description.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if sterrors.As(err, &typed) {
		return typed
	}
	var streaming StreamingError
	if sterrors.As(err, &streaming) {
		return &Error{Kind: KindBadInput, Reason: streaming.Error(), cause: err}
	}
	return &Error{Kind: KindOther, Description: err.Error(), cause: err}
}

// KindOf reports the kind of err, KindOther for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindOther
	}
	return As(err).Kind
}

// StreamingError reports cardinality violations of a communication pattern.
type StreamingError uint8

const (
	ErrMoreThanOneResponse StreamingError = iota + 1
	ErrMoreThanOneRequest
)

func (e StreamingError) Error() string {
	switch e {
	case ErrMoreThanOneResponse:
		return "evalflow: more than one response produced where only one is allowed"
	case ErrMoreThanOneRequest:
		return "evalflow: more than one request received where only one is allowed"
	default:
		return "evalflow: streaming error"
	}
}

// InvalidEventSequence panics with ErrInvalidEventSequence. A malformed event
// sequence is an integration bug of the exporter, not a client error.
func InvalidEventSequence(detail string) {
	panic(fmt.Errorf("%w: %s", ErrInvalidEventSequence, detail))
}
