package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ServiceError is a failed or timed-out call to the external service
type ServiceError struct {
	Provider   string
	StatusCode int // 0 when the request never got a response
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s service error (HTTP %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s service error: %v", e.Provider, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth another attempt.
// Authentication and bad-request failures are not.
func (e *ServiceError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return false
	}
	return true
}

// ParseError is a response that could not be turned into the expected result:
// malformed JSON, a wrong item count or out-of-range values
type ParseError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse response: %s: %v", e.Reason, e.Err)
	}
	return "parse response: " + e.Reason
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err should consume another attempt of the retry budget
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var serr *ServiceError
	if errors.As(err, &serr) {
		return serr.Retryable()
	}
	return true
}
