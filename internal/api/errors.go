package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Common errors for the backend client.
var (
	ErrNoBaseURL = errors.New("no base URL configured")
	ErrNoToken   = errors.New("no API token configured")
)

// StatusError is a non-2xx HTTP response from the backend. It carries the
// status code so callers can classify the failure without sniffing
// message text.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("backend returned HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("backend returned HTTP %d", e.StatusCode)
}

// IsUnauthorized reports whether the backend rejected our credentials.
func IsUnauthorized(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden
	}
	return false
}

// IsRetryable classifies a failure as transient. Transport failures and
// server-side 5xx responses are worth retrying later; 4xx responses
// (auth, validation) are terminal and retrying cannot succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNoBaseURL) || errors.Is(err, ErrNoToken) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500
	}
	// Anything else is a transport or connectivity failure.
	return true
}
