// Package client provides the core Coda API HTTP client with timeout, retry,
// backoff, and rate limit handling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zah/coda-exporter/pkg/ratelimit"
)

// Prometheus metrics for Coda API client operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coda_api_requests_total",
		Help: "Total Coda API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coda_api_request_duration_seconds",
		Help:    "Coda API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coda_api_errors_total",
		Help: "Total Coda API errors by class",
	}, []string{"class"})

	apiRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coda_api_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"class"})

	apiRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coda_api_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"class"})

	apiRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coda_api_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"class"})
)

// DefaultBaseURL is the public Coda API v1 base URL.
const DefaultBaseURL = "https://coda.io/apis/v1"

// Default timeouts for one attempt.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the Coda API. Defaults to DefaultBaseURL.
	BaseURL string

	// Token is the bearer token sent on every request (REQUIRED).
	Token string

	// Retry is the retry policy, fixed for the lifetime of the client.
	Retry RetryPolicy

	// ConnectTimeout bounds connection establishment per attempt.
	ConnectTimeout time.Duration

	// RequestTimeout bounds one full attempt including the body read.
	RequestTimeout time.Duration

	// Pace is the steady-state delay after every successful call.
	// Ignored when Limiter is set.
	Pace time.Duration

	// Limiter is the shared rate-limit state. When nil a purely in-process
	// limiter is created; supply one backed by a ratelimit.Store to share
	// hold-offs across processes.
	Limiter *ratelimit.Limiter
}

// DefaultConfig returns a safe default configuration for the given token.
func DefaultConfig(token string) Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		Token:          token,
		Retry:          DefaultRetryPolicy(),
		ConnectTimeout: DefaultConnectTimeout,
		RequestTimeout: DefaultRequestTimeout,
		Pace:           ratelimit.DefaultPace,
	}
}

// Client issues single logical Coda API calls with retry and backoff.
// Safe for concurrent use across export jobs and listing calls.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	retry      RetryPolicy
	baseURL    string
	token      string
	logger     zerolog.Logger

	// sleep is replaceable in tests to record the backoff schedule.
	sleep sleepFunc
}

// New creates a new Coda API client.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("api token is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if err := cfg.Retry.validate(); err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}

	logger := log.With().Str("component", "coda-client").Logger()

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(cfg.Pace, nil, logger)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: cfg.ConnectTimeout,
				}).DialContext,
			},
		},
		limiter: limiter,
		retry:   cfg.Retry,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		logger:  logger,
		sleep:   sleepWithContext,
	}, nil
}

// Response is the parsed body of one successful logical call.
type Response struct {
	StatusCode int
	Header     http.Header

	// JSON holds the structured body when the server returned JSON.
	JSON json.RawMessage

	// Text holds the raw body otherwise (plain-text export downloads).
	Text string
}

// IsJSON reports whether the response carried a structured JSON body.
func (r *Response) IsJSON() bool {
	return r.JSON != nil
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if r.JSON == nil {
		return fmt.Errorf("response is not JSON")
	}
	return json.Unmarshal(r.JSON, v)
}

// Get performs a GET request against an API endpoint.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodGet, endpoint, nil, params)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, endpoint, body, nil)
}

// Do performs one logical API call with retry, backoff, and rate limiting.
// Retryable failures (network, 429, 5xx) are absorbed up to the retry
// policy's attempt budget; fatal failures abort immediately with a typed
// *APIError the caller can branch on.
func (c *Client) Do(ctx context.Context, method, endpoint string, body any, params url.Values) (*Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	requestURL := c.baseURL + endpoint
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	startTime := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	var lastErr *APIError
	retryIndex := 0 // position in the exponential schedule; 429s do not advance it

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		c.logger.Debug().
			Str("method", method).
			Str("endpoint", endpoint).
			Int("attempt", attempt).
			Msg("Executing API request")

		resp, header, statusCode, netErr := c.attempt(ctx, method, requestURL, payload)

		var delay time.Duration
		switch {
		case netErr != nil:
			apiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			apiRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			lastErr = &APIError{
				Class:    ErrorClassNetwork,
				Endpoint: endpoint,
				Message:  "connection error or timeout",
				Err:      netErr,
			}
			retryIndex++
			delay = c.retry.backoffDelay(retryIndex)

		case statusCode < 400:
			apiRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", statusCode)).Inc()
			c.limiter.ObserveSuccess()
			if attempt > 1 {
				c.logger.Info().
					Str("endpoint", endpoint).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return resp, nil

		default:
			class := classifyStatus(statusCode)
			apiErrorsTotal.WithLabelValues(string(class)).Inc()
			apiRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", statusCode)).Inc()

			apiErr := &APIError{
				StatusCode: statusCode,
				Class:      class,
				Endpoint:   endpoint,
				Message:    errorDetail(statusCode, resp),
			}

			if !shouldRetry(class) {
				c.logger.Error().
					Str("endpoint", endpoint).
					Int("status", statusCode).
					Str("class", string(class)).
					Msg("API request failed with fatal error")
				return nil, apiErr
			}

			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", statusCode).
				Str("class", string(class)).
				Msg("API request error")

			lastErr = apiErr

			if class == ErrorClassRateLimit {
				// Server-specified delay; the exponential schedule is
				// unaffected and the hold is shared with concurrent calls.
				delay = c.retry.retryAfterDelay(header)
				c.limiter.ObserveHold(ctx, delay)
			} else {
				retryIndex++
				delay = c.retry.backoffDelay(retryIndex)
			}
		}

		if attempt >= c.retry.MaxAttempts {
			break
		}

		apiRetriesTotal.WithLabelValues(string(lastErr.Class)).Inc()
		apiRetryBackoffSeconds.WithLabelValues(string(lastErr.Class)).Observe(delay.Seconds())

		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("class", string(lastErr.Class)).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	apiRetryExhaustedTotal.WithLabelValues(string(lastErr.Class)).Inc()
	c.logger.Error().
		Str("endpoint", endpoint).
		Int("max_attempts", c.retry.MaxAttempts).
		Str("class", string(lastErr.Class)).
		Msg("Retry attempts exhausted")

	return nil, &APIError{
		StatusCode: lastErr.StatusCode,
		Class:      lastErr.Class,
		Endpoint:   endpoint,
		Message:    fmt.Sprintf("giving up after %d attempts", c.retry.MaxAttempts),
		Err:        fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, c.retry.MaxAttempts, lastErr),
	}
}

// attempt performs one HTTP round trip and fully reads the body.
// netErr is non-nil only for transport failures; HTTP error statuses are
// returned to the caller for classification.
func (c *Client) attempt(ctx context.Context, method, requestURL string, payload []byte) (*Response, http.Header, int, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, nil, 0, err
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, 0, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.Header, 0, err
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
	}
	if isJSONContentType(httpResp.Header.Get("Content-Type")) {
		resp.JSON = json.RawMessage(raw)
	} else {
		resp.Text = string(raw)
	}

	return resp, httpResp.Header, httpResp.StatusCode, nil
}

// errorDetail combines the concrete status reason with the server-supplied
// message when the error body carries one.
func errorDetail(statusCode int, resp *Response) string {
	msg := statusMessage(statusCode)

	if resp != nil && resp.JSON != nil {
		var detail struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(resp.JSON, &detail); err == nil && detail.Message != "" {
			msg += ": " + detail.Message
		}
	}

	return msg
}

// isJSONContentType reports whether the Content-Type header denotes JSON.
func isJSONContentType(contentType string) bool {
	return strings.HasPrefix(contentType, "application/json")
}
