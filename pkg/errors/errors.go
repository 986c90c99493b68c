package relay_errors

import (
	"errors"
	"net/http"
	"time"
)

// Common errors
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrInvalidInput        = errors.New("invalid input")
	ErrRateLimited         = errors.New("rate limited")
	ErrAlreadyExists       = errors.New("already exists")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrTransport marks bus publish/consume failures. Always retriable.
	ErrTransport = errors.New("transport failure")
	// ErrPermanent marks a bus entry that no amount of redelivery can fix.
	// The consumer dead-letters it instead of retrying.
	ErrPermanent = errors.New("permanent failure")
)

// HTTPStatus maps a domain error to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine readable code placed in error responses.
func Code(err error) string {
	switch HTTPStatus(err) {
	case http.StatusServiceUnavailable:
		return "UPSTREAM_UNAVAILABLE"
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "UNAUTHORIZED"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "CONFLICT"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	case http.StatusBadGateway:
		return "TRANSPORT_FAILURE"
	default:
		return "INTERNAL_ERROR"
	}
}

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}
