package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an expected, caller-recoverable failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindValidation
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindValidation:
		return "validation_error"
	case KindInvalidState:
		return "invalid_state"
	default:
		return "unknown"
	}
}

// Error is a domain error whose Message is safe to return to API callers verbatim.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports that an entity id did not resolve, e.g. NotFound("lab test").
func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

func AlreadyExists(format string, args ...interface{}) *Error {
	return &Error{Kind: KindAlreadyExists, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a domain error without changing its message.
func Wrap(e *Error, cause error) *Error {
	e.Err = cause
	return e
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error to the status code the API layer responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyExists, KindInvalidState:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message for the API response. Unexpected errors
// never leak their internals.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}
