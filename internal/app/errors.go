package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func unknownCollection(name string) *DomainError {
	return domainError(http.StatusNotFound, "UNKNOWN_COLLECTION", fmt.Sprintf("Unknown collection %q", name), nil)
}

var errBookingUnavailable = domainError(http.StatusServiceUnavailable, "BOOKING_UNAVAILABLE", "Booking is not configured", nil)

var errInvalidCredentials = domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)

var errMediaUnavailable = domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Image storage is not configured", nil)
