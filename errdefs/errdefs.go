// Package errdefs holds the error taxonomy shared by the registry, the
// validation engine and the approval workflow engine. Package-level errors wrap
// one of these sentinels so callers can branch with errors.Is.
package errdefs

import (
	"errors"
	"net/http"
)

var (
	// ErrNotFound marks an unknown session, workflow, rule or delegation id.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a duplicate id on create or register.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput marks malformed requests: unknown rule kind, bad
	// delegation window, unrecognized workflow type.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStateConflict marks an operation on a closed or terminal entity.
	ErrStateConflict = errors.New("state conflict")

	// ErrUpstream marks a failure of an external dependency such as the
	// signing service.
	ErrUpstream = errors.New("upstream failure")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// New returns an error with the given message that matches kind under errors.Is.
func New(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

type upstreamError struct {
	err error
}

func (e *upstreamError) Error() string   { return e.err.Error() }
func (e *upstreamError) Unwrap() []error { return []error{ErrUpstream, e.err} }

// Upstream marks err as coming from an external dependency. Errors that
// already carry a kind are returned unchanged.
func Upstream(err error) error {
	if err == nil || HTTPStatus(err) != http.StatusInternalServerError {
		return err
	}
	return &upstreamError{err: err}
}

// HTTPStatus maps an error onto a response status. Anything outside the
// taxonomy is an internal error.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
