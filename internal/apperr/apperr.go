// Package apperr carries HTTP status with an error.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is rendered as {"detail": Detail}. Err is logged, never sent.
type Error struct {
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Detail, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, detail string) *Error {
	return &Error{Status: status, Detail: detail}
}

func BadRequest(detail string) *Error   { return New(http.StatusBadRequest, detail) }
func Unauthorized(detail string) *Error { return New(http.StatusUnauthorized, detail) }
func Forbidden(detail string) *Error    { return New(http.StatusForbidden, detail) }
func NotFound(detail string) *Error     { return New(http.StatusNotFound, detail) }
func Conflict(detail string) *Error     { return New(http.StatusConflict, detail) }

func TooManyRequests(detail string) *Error {
	return New(http.StatusTooManyRequests, detail)
}

func Internal(err error) *Error {
	return &Error{Status: http.StatusInternalServerError, Detail: "Internal server error", Err: err}
}

// As returns err as *Error; anything else becomes a 500.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
