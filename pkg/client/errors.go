package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a
	// request or a backoff wait.
	ErrContextCancelled = errors.New("context cancelled")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassNetwork represents connection errors and timeouts.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassRateLimit represents HTTP 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassAuth represents 401/403 credential and permission errors.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassNotFound represents 404 responses.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassClient represents all other 4xx client errors.
	ErrorClassClient ErrorClass = "client"
)

// APIError represents a Coda API failure with enough context for callers to
// branch on kind rather than message strings.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Endpoint   string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("coda %s error (status %d) for %s: %s: %v",
			e.Class, e.StatusCode, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("coda %s error (status %d) for %s: %s",
		e.Class, e.StatusCode, e.Endpoint, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether reissuing the request may succeed.
func (e *APIError) IsRetryable() bool {
	return shouldRetry(e.Class)
}

// classifyStatus maps an HTTP status code to an error class.
func classifyStatus(statusCode int) ErrorClass {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return ErrorClassAuth
	case statusCode == http.StatusNotFound:
		return ErrorClassNotFound
	case statusCode >= 500:
		return ErrorClassServer
	case statusCode >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}

// statusMessage gives the concrete failure reason for a status code.
func statusMessage(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "invalid API token"
	case http.StatusForbidden:
		return "access forbidden (check permissions)"
	case http.StatusNotFound:
		return "resource not found"
	case http.StatusTooManyRequests:
		return "rate limit exceeded"
	default:
		if statusCode >= 500 {
			return "server error (try again later)"
		}
		return http.StatusText(statusCode)
	}
}

// shouldRetry determines if an error class is worth retrying.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassNetwork, ErrorClassRateLimit, ErrorClassServer:
		return true
	case ErrorClassAuth, ErrorClassNotFound, ErrorClassClient:
		// Fatal: retrying is known to be futile.
		return false
	default:
		return false
	}
}
