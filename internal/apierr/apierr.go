// Package apierr defines the error taxonomy shared by the streaming and
// long-polling endpoints, and its mapping onto wire codes and HTTP statuses.
package apierr

import (
	"errors"
	"net/http"
)

var (
	// ErrUnauthenticated means no Principal could be resolved for the request.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the Principal is not a member of the brewing company
	// that owns the requested resource.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound means a referenced recipe instance, sensor or brewhouse
	// does not exist.
	ErrNotFound = errors.New("not found")
	// ErrMalformedMessage means an inbound frame or body violated its schema.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrDeliveryFailure means a frame could not be queued for one recipient.
	ErrDeliveryFailure = errors.New("delivery failure")
	// ErrConflict means the request conflicts with current resource state,
	// such as launching a second recipe instance on an active brewhouse.
	ErrConflict = errors.New("conflict")
)

// Code returns the short machine-readable code written in error bodies.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrMalformedMessage):
		return "malformed_message"
	case errors.Is(err, ErrDeliveryFailure):
		return "delivery_failure"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps an error onto the status code of an HTTP response.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMalformedMessage):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
