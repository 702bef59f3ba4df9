package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// RetryPolicy holds the retry configuration for one executor instance.
// It is immutable once the client is constructed.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (including the initial
	// request). Must be >= 1.
	MaxAttempts int

	// BaseDelay is the first exponential backoff delay.
	BaseDelay time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// RespectRetryAfter honors the Retry-After header on 429 responses.
	RespectRetryAfter bool

	// RetryAfterDefault is the wait applied to a 429 response that carries
	// no Retry-After header.
	RetryAfterDefault time.Duration
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       4,
		BaseDelay:         1 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
		RespectRetryAfter: true,
		RetryAfterDefault: 60 * time.Second,
	}
}

// validate checks the policy invariants.
func (p RetryPolicy) validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", p.MaxAttempts)
	}
	if p.BaseDelay <= 0 {
		return fmt.Errorf("base_delay must be positive (got %v)", p.BaseDelay)
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1 (got %v)", p.BackoffMultiplier)
	}
	return nil
}

// backoffDelay returns the exponential delay before retry number retryIndex.
// The index starts at 1 for the first retry: BaseDelay * Multiplier^1.
func (p RetryPolicy) backoffDelay(retryIndex int) time.Duration {
	delay := float64(p.BaseDelay)
	for i := 0; i < retryIndex; i++ {
		delay *= p.BackoffMultiplier
	}

	d := time.Duration(delay)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// retryAfterDelay extracts the server-specified wait from a 429 response.
// Falls back to RetryAfterDefault when the header is absent or unparseable.
func (p RetryPolicy) retryAfterDelay(header http.Header) time.Duration {
	if !p.RespectRetryAfter {
		return p.RetryAfterDefault
	}

	raw := header.Get("Retry-After")
	if raw == "" {
		return p.RetryAfterDefault
	}

	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return p.RetryAfterDefault
	}
	return time.Duration(seconds) * time.Second
}

// sleepFunc waits for the given duration or until the context is cancelled.
// The client's instance is replaceable in tests to record the delay schedule.
type sleepFunc func(ctx context.Context, d time.Duration) error

// sleepWithContext is the default sleepFunc.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
