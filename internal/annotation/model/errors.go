package model

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAuthorizationRefused = errors.New("authorization_refused")
	ErrNotFound             = errors.New("not_found")
	ErrMalformedInput       = errors.New("malformed_input")
	ErrIndexTransport       = errors.New("index_transport_failure")
)

// IndexError is a failure reported by the index backend. Status is the
// status the index reported, or 0 when it reported none.
type IndexError struct {
	Status int
	Err    error
}

func (e *IndexError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("index error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("index error: %v", e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

func (e *IndexError) Is(target error) bool { return target == ErrIndexTransport }

// StatusCode returns the reported status, falling back to 500.
func (e *IndexError) StatusCode() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// Kind names the error category for clients.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrAuthorizationRefused):
		return ErrAuthorizationRefused.Error()
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	case errors.Is(err, ErrMalformedInput):
		return ErrMalformedInput.Error()
	case errors.Is(err, ErrIndexTransport):
		return ErrIndexTransport.Error()
	default:
		return "unexpected"
	}
}
