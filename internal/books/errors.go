// Package books provides an HTTP client for the Books "My Library" API
// with bearer authentication, retry with backoff, and error classification.
package books

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tonimelisma/books-go/internal/auth"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, books.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("books: bad request")
	ErrUnauthorized = errors.New("books: unauthorized")
	ErrForbidden    = errors.New("books: forbidden")
	ErrNotFound     = errors.New("books: not found")
	ErrThrottled    = errors.New("books: throttled")
	ErrServerError  = errors.New("books: server error")
)

// APIError wraps the classification sentinels with HTTP status code,
// request ID, and the API error body for debugging. A 401 also matches
// auth.ErrInvalidGrant; transient statuses also match auth.ErrNetwork.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Errs       []error // sentinels, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("books: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("books: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() []error {
	return e.Errs
}

// classifyStatus maps an HTTP status code to its sentinel errors.
// Returns nil for codes without a dedicated sentinel.
func classifyStatus(code int) []error {
	var errs []error

	switch code {
	case http.StatusBadRequest:
		errs = append(errs, ErrBadRequest)
	case http.StatusUnauthorized:
		// The server no longer accepts the token: a revoked grant, not a
		// transient condition.
		errs = append(errs, ErrUnauthorized, auth.ErrInvalidGrant)
	case http.StatusForbidden:
		errs = append(errs, ErrForbidden)
	case http.StatusNotFound:
		errs = append(errs, ErrNotFound)
	case http.StatusTooManyRequests:
		errs = append(errs, ErrThrottled)
	default:
		if code >= http.StatusInternalServerError {
			errs = append(errs, ErrServerError)
		}
	}

	if isRetryable(code) {
		errs = append(errs, auth.ErrNetwork)
	}

	return errs
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
