// Package errs defines the domain error taxonomy shared by the credential,
// authorization and resource packages. The HTTP layer maps each Kind to a
// status code; everything that is not an *Error is treated as internal.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalidInput Kind = "INVALID_INPUT"
	KindValidation   Kind = "VALIDATION_ERROR"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindNotFound     Kind = "NOT_FOUND"
	KindConflict     Kind = "CONFLICT"
)

type Error struct {
	Kind    Kind
	Message string
	Details any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func New(kind Kind, message string, details any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

func InvalidInput(message string) *Error { return New(KindInvalidInput, message, nil) }
func Validation(message string) *Error   { return New(KindValidation, message, nil) }
func Unauthorized(message string) *Error { return New(KindUnauthorized, message, nil) }
func Forbidden(message string) *Error    { return New(KindForbidden, message, nil) }
func NotFound(message string) *Error     { return New(KindNotFound, message, nil) }
func Conflict(message string) *Error     { return New(KindConflict, message, nil) }

// As returns the domain error wrapped in err, if any.
func As(err error) (*Error, bool) {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

// Is reports whether err carries a domain error of the given kind.
func Is(err error, kind Kind) bool {
	domainErr, ok := As(err)
	return ok && domainErr.Kind == kind
}
