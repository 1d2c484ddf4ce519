package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindConflict     Kind = "conflict"
	KindPrecondition Kind = "precondition_failed"
	KindUnauthorized Kind = "unauthorized"
	KindRateLimited  Kind = "rate_limited"
	KindInternal     Kind = "internal"
)

const CodeInternal = "INTERNAL_ERROR"

// Error is a user-facing failure. Status is the HTTP status it maps to and Code
// the machine-readable identifier; Err carries the message shown to the caller.
type Error struct {
	Kind   Kind
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, status int, code string, err error) *Error {
	return &Error{Kind: kind, Status: status, Code: code, Err: err}
}

func Validation(code, msg string) *Error {
	return New(KindValidation, http.StatusBadRequest, code, errors.New(msg))
}

func NotFound(code, msg string) *Error {
	return New(KindNotFound, http.StatusNotFound, code, errors.New(msg))
}

func Forbidden(code, msg string) *Error {
	return New(KindForbidden, http.StatusForbidden, code, errors.New(msg))
}

func Conflict(code, msg string) *Error {
	return New(KindConflict, http.StatusConflict, code, errors.New(msg))
}

func Precondition(code, msg string) *Error {
	return New(KindPrecondition, http.StatusBadRequest, code, errors.New(msg))
}

func Unauthorized(code, msg string) *Error {
	return New(KindUnauthorized, http.StatusUnauthorized, code, errors.New(msg))
}

// As extracts the *Error from err's chain. Anything else becomes an internal
// error whose message carries no detail.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return New(KindInternal, http.StatusInternalServerError, CodeInternal, errors.New("internal server error"))
}

func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}
