package client

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		statusCode int
		want       ErrorClass
	}{
		{429, ErrorClassRateLimit},
		{401, ErrorClassAuth},
		{403, ErrorClassAuth},
		{404, ErrorClassNotFound},
		{500, ErrorClassServer},
		{502, ErrorClassServer},
		{503, ErrorClassServer},
		{400, ErrorClassClient},
		{422, ErrorClassClient},
		{200, ""},
		{204, ""},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.statusCode); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.statusCode, got, tt.want)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassNetwork, true},
		{ErrorClassRateLimit, true},
		{ErrorClassServer, true},
		{ErrorClassAuth, false},
		{ErrorClassNotFound, false},
		{ErrorClassClient, false},
		{"", false},
	}

	for _, tt := range tests {
		if got := shouldRetry(tt.class); got != tt.want {
			t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestStatusMessage(t *testing.T) {
	tests := []struct {
		statusCode int
		contains   string
	}{
		{401, "invalid API token"},
		{403, "forbidden"},
		{404, "not found"},
		{429, "rate limit"},
		{500, "server error"},
		{418, "teapot"},
	}

	for _, tt := range tests {
		msg := statusMessage(tt.statusCode)
		if !strings.Contains(msg, tt.contains) {
			t.Errorf("statusMessage(%d) = %q, want substring %q", tt.statusCode, msg, tt.contains)
		}
	}
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{
		StatusCode: 403,
		Class:      ErrorClassAuth,
		Endpoint:   "/docs/abc",
		Message:    "access forbidden (check permissions)",
	}

	msg := err.Error()
	for _, want := range []string{"auth", "403", "/docs/abc", "forbidden"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want substring %q", msg, want)
		}
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("%w after 3 attempts", ErrRetryExhausted)
	err := &APIError{
		Class:    ErrorClassServer,
		Endpoint: "/docs",
		Err:      inner,
	}

	if !errors.Is(err, ErrRetryExhausted) {
		t.Error("errors.Is should reach ErrRetryExhausted through Unwrap")
	}

	var apiErr *APIError
	var wrapped error = fmt.Errorf("listing failed: %w", err)
	if !errors.As(wrapped, &apiErr) {
		t.Fatal("errors.As should find *APIError")
	}
	if apiErr.Class != ErrorClassServer {
		t.Errorf("Class = %q, want server", apiErr.Class)
	}
}

func TestAPIError_IsRetryable(t *testing.T) {
	retryable := &APIError{Class: ErrorClassServer}
	if !retryable.IsRetryable() {
		t.Error("server errors should be retryable")
	}

	fatal := &APIError{Class: ErrorClassAuth}
	if fatal.IsRetryable() {
		t.Error("auth errors should not be retryable")
	}
}
