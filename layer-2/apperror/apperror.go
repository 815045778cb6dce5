package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/agritrace/agritracechain/layer-2/repository"
)

// Kind classifies an error for the HTTP boundary
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindAuthentication
	KindUnauthorized
	KindConflict
)

// Error is a service-level error carrying its kind
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

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Authentication is a failed login attempt
func Authentication(format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized is a missing or rejected bearer token
func Unauthorized(format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// FromRepository translates a repository error into a service error
func FromRepository(rerr *repository.RepositoryError) *Error {
	if rerr == nil {
		return nil
	}
	switch rerr.Code {
	case repository.CodeNotFound:
		return &Error{Kind: KindNotFound, Message: rerr.Detail, Err: rerr}
	case repository.CodeAlreadyExists, repository.CodeVersionConflict:
		return &Error{Kind: KindConflict, Message: rerr.Detail, Err: rerr}
	default:
		return &Error{Kind: KindInternal, Message: rerr.Message, Err: rerr}
	}
}

// KindOf returns the kind of err, KindInternal when it is not an *Error
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// HTTPStatus maps err to its response status
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindAuthentication:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to return to clients
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal {
		return appErr.Message
	}
	return "Internal server error"
}
