// Package ratelimit implements workspace-wide request pacing for the Coda API.
// The API enforces rate limits per workspace, not per call, so all concurrent
// operations on one client share a single hold-off deadline: a steady-state
// pace after every successful call, and longer holds derived from observed
// 429 Retry-After values. The deadline can optionally be mirrored across
// processes through a Store.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit pacing.
var (
	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coda_rate_limit_waits_total",
		Help: "Total number of requests that waited on the shared pacing deadline",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coda_rate_limit_wait_seconds",
		Help:    "Time spent waiting on the shared pacing deadline",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
	})

	rateLimitHoldsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coda_rate_limit_holds_total",
		Help: "Total number of server-directed holds (429 Retry-After)",
	})
)

// DefaultPace is the steady-state delay inserted after every successful call.
const DefaultPace = 100 * time.Millisecond

// Limiter gates requests behind a shared hold-off deadline. Safe for
// concurrent use; all mutation happens under the mutex.
type Limiter struct {
	mu          sync.Mutex
	nextAllowed time.Time

	pace   time.Duration
	store  Store
	logger zerolog.Logger

	// Replaceable in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimiter creates a limiter with the given steady-state pace.
// store may be nil for purely in-process pacing.
func NewLimiter(pace time.Duration, store Store, logger zerolog.Logger) *Limiter {
	if pace <= 0 {
		pace = DefaultPace
	}

	return &Limiter{
		pace:   pace,
		store:  store,
		logger: logger,
		now:    time.Now,
		sleep:  sleepUntil,
	}
}

// Wait blocks until the shared deadline allows the next request, or the
// context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	deadline := l.deadline(ctx)

	wait := deadline.Sub(l.now())
	if wait <= 0 {
		return ctx.Err()
	}

	rateLimitWaitsTotal.Inc()
	rateLimitWaitSeconds.Observe(wait.Seconds())

	l.logger.Debug().
		Dur("wait", wait).
		Msg("Waiting on rate limit deadline")

	return l.sleep(ctx, wait)
}

// ObserveSuccess schedules the steady-state pace before the next request.
// An existing longer hold is never shortened.
func (l *Limiter) ObserveSuccess() {
	next := l.now().Add(l.pace)

	l.mu.Lock()
	if next.After(l.nextAllowed) {
		l.nextAllowed = next
	}
	l.mu.Unlock()
}

// ObserveHold records a server-directed hold (429 Retry-After) and mirrors
// it to the shared store when one is configured. Store failures degrade to
// in-process pacing rather than failing the request.
func (l *Limiter) ObserveHold(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	deadline := l.now().Add(d)

	l.mu.Lock()
	if deadline.After(l.nextAllowed) {
		l.nextAllowed = deadline
	}
	l.mu.Unlock()

	rateLimitHoldsTotal.Inc()
	l.logger.Warn().
		Dur("hold", d).
		Time("until", deadline).
		Msg("Rate limited - holding all requests")

	if l.store != nil {
		if err := l.store.SaveDeadline(ctx, deadline); err != nil {
			l.logger.Warn().Err(err).Msg("Failed to share rate limit deadline")
		}
	}
}

// deadline returns the effective hold-off deadline, consulting the shared
// store when configured.
func (l *Limiter) deadline(ctx context.Context) time.Time {
	l.mu.Lock()
	deadline := l.nextAllowed
	l.mu.Unlock()

	if l.store == nil {
		return deadline
	}

	shared, err := l.store.LoadDeadline(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Msg("Failed to load shared rate limit deadline")
		return deadline
	}

	if shared.After(deadline) {
		deadline = shared
	}
	return deadline
}

// SetClock replaces the time source and sleep function (for testing).
func (l *Limiter) SetClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) {
	l.now = now
	l.sleep = sleep
}

// sleepUntil waits for d or until ctx is cancelled.
func sleepUntil(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
