package errutil

import (
	"errors"
	"net/http"
)

// CoreStatus is the transport-agnostic error classification carried by
// BaseError. Handlers map it to an HTTP status at the edge.
type CoreStatus string

const (
	StatusUnknown             CoreStatus = "UNKNOWN"
	StatusBadRequest          CoreStatus = "BAD_REQUEST"
	StatusValidationFailed    CoreStatus = "VALIDATION_FAILED"
	StatusUnauthorized        CoreStatus = "UNAUTHORIZED"
	StatusForbidden           CoreStatus = "FORBIDDEN"
	StatusNotFound            CoreStatus = "NOT_FOUND"
	StatusConflict            CoreStatus = "CONFLICT"
	StatusUnprocessableEntity CoreStatus = "UNPROCESSABLE_ENTITY"
	StatusTooManyRequests     CoreStatus = "TOO_MANY_REQUESTS"
	StatusTimeout             CoreStatus = "TIMEOUT"
	StatusInternal            CoreStatus = "INTERNAL"
)

// HTTPStatus converts the CoreStatus to its closest HTTP status code.
func (s CoreStatus) HTTPStatus() int {
	switch s {
	case StatusBadRequest, StatusValidationFailed:
		return http.StatusBadRequest
	case StatusUnauthorized:
		return http.StatusUnauthorized
	case StatusForbidden:
		return http.StatusForbidden
	case StatusNotFound:
		return http.StatusNotFound
	case StatusConflict:
		return http.StatusConflict
	case StatusUnprocessableEntity:
		return http.StatusUnprocessableEntity
	case StatusTooManyRequests:
		return http.StatusTooManyRequests
	case StatusTimeout:
		return http.StatusGatewayTimeout
	case StatusInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// StatusOf extracts the CoreStatus from any error produced by this package.
func StatusOf(err error) CoreStatus {
	if err == nil {
		return StatusUnknown
	}

	var be BaseError
	if errors.As(err, &be) {
		return be.Code
	}

	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		return coder.Status()
	}

	return StatusInternal
}
