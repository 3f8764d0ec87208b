package common

import (
	"errors"
	"fmt"
)

// Error classes. Venue clients wrap one of these so callers can branch with errors.Is.
var (
	ErrAuth        = errors.New("authentication failed")
	ErrRateLimited = errors.New("rate limited")
	ErrValidation  = errors.New("rejected by exchange")
	ErrTransient   = errors.New("transient exchange failure")
)

// APIError is a venue error response.
type APIError struct {
	Status  int
	Name    string
	Message string
	class   error
}

// NewAPIError classifies an HTTP status into one of the error classes.
func NewAPIError(status int, name, message string) *APIError {
	var class error
	switch {
	case status == 401 || status == 403:
		class = ErrAuth
	case status == 429 || name == "too_many_requests":
		class = ErrRateLimited
	case status >= 400 && status < 500:
		class = ErrValidation
	default:
		class = ErrTransient
	}
	return &APIError{Status: status, Name: name, Message: message, class: class}
}

func (e *APIError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("status %d %s: %s", e.Status, e.Name, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return e.class }

// IsTransient reports whether err is worth retrying on the next cycle.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

// Failed builds the failed OrderResult that accompanies err.
func Failed(err error) OrderResult {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return OrderResult{Success: false, Message: apiErr.Message}
	}
	return OrderResult{Success: false, Message: err.Error()}
}
