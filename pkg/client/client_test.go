package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// newTestClient creates a client against the given server URL with instant,
// recorded sleeps so the backoff schedule can be asserted without waiting.
func newTestClient(t *testing.T, baseURL string, policy RetryPolicy) (*Client, *delayRecorder) {
	t.Helper()

	cfg := DefaultConfig("test-token")
	cfg.BaseURL = baseURL
	cfg.Retry = policy

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.logger = zerolog.Nop()

	rec := &delayRecorder{}
	c.sleep = rec.sleep
	c.limiter.SetClock(time.Now, func(ctx context.Context, d time.Duration) error { return nil })

	return c, rec
}

type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *delayRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       4,
		BaseDelay:         1 * time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
		RespectRetryAfter: true,
		RetryAfterDefault: 60 * time.Second,
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
	}{
		{
			name:   "valid config",
			config: DefaultConfig("token"),
		},
		{
			name:        "missing token",
			config:      Config{BaseURL: DefaultBaseURL, Retry: DefaultRetryPolicy()},
			expectError: true,
		},
		{
			name: "invalid retry policy",
			config: Config{
				Token: "token",
				Retry: RetryPolicy{MaxAttempts: 0},
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if c == nil {
				t.Fatal("Client is nil")
			}
		})
	}
}

func TestDo_SuccessJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"name": "Test User"}`))
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, testPolicy())

	resp, err := c.Get(context.Background(), "/whoami", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if !resp.IsJSON() {
		t.Fatal("Expected JSON response")
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := resp.Decode(&body); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if body.Name != "Test User" {
		t.Errorf("Name = %q, want %q", body.Name, "Test User")
	}
}

func TestDo_SuccessPlainText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte("# Exported Page"))
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, testPolicy())

	resp, err := c.Get(context.Background(), "/download", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if resp.IsJSON() {
		t.Error("Expected non-JSON response")
	}
	if resp.Text != "# Exported Page" {
		t.Errorf("Text = %q, want raw body", resp.Text)
	}
	if err := resp.Decode(&struct{}{}); err == nil {
		t.Error("Decode on a text response should fail")
	}
}

func TestDo_RequestShape(t *testing.T) {
	var gotAuth, gotAccept, gotContentType, gotQuery, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotContentType = r.Header.Get("Content-Type")
		gotQuery = r.URL.RawQuery
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, testPolicy())

	params := url.Values{}
	params.Set("valueFormat", "rich")
	if _, err := c.Do(context.Background(), http.MethodPost, "/docs/d1/tables/t1/rows", map[string]string{"outputFormat": "markdown"}, params); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotQuery != "valueFormat=rich" {
		t.Errorf("Query = %q", gotQuery)
	}
	if gotBody != `{"outputFormat":"markdown"}` {
		t.Errorf("Body = %q", gotBody)
	}
}

// A simulated endpoint failing on the first n-1 calls and succeeding on the
// nth must yield success after exactly n calls, with delays following
// BaseDelay * Multiplier^k.
func TestDo_SucceedsOnFinalAttempt(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 4 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, testPolicy())

	resp, err := c.Get(context.Background(), "/docs", nil)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if calls != 4 {
		t.Errorf("Expected exactly 4 calls, got %d", calls)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	got := rec.recorded()
	if len(got) != len(want) {
		t.Fatalf("Recorded %d delays (%v), want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Delay %d = %v, want %v", i, got[i], want[i])
		}
	}
}

// A 429 with Retry-After must wait exactly the server-specified delay and
// must not advance the exponential schedule.
func TestDo_RateLimitRetryAfter(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch calls {
		case 1:
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, testPolicy())

	if _, err := c.Get(context.Background(), "/docs", nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// 5s from Retry-After, then 2s: the 500 is the first retry on the
	// exponential schedule because the 429 did not consume a slot.
	want := []time.Duration{5 * time.Second, 2 * time.Second}
	got := rec.recorded()
	if len(got) != len(want) {
		t.Fatalf("Recorded delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Delay %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDo_RateLimitDefaultDelay(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, testPolicy())

	if _, err := c.Get(context.Background(), "/docs", nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	got := rec.recorded()
	if len(got) != 1 || got[0] != 60*time.Second {
		t.Errorf("Recorded delays = %v, want [60s]", got)
	}
}

// 401 must abort immediately with an auth error and zero retries.
func TestDo_AuthErrorNoRetry(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message": "token expired"}`))
	}))
	defer server.Close()

	c, rec := newTestClient(t, server.URL, testPolicy())

	_, err := c.Get(context.Background(), "/whoami", nil)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Class != ErrorClassAuth {
		t.Errorf("Class = %q, want auth", apiErr.Class)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	if calls != 1 {
		t.Errorf("Expected exactly 1 call, got %d", calls)
	}
	if len(rec.recorded()) != 0 {
		t.Errorf("Expected no backoff sleeps, got %v", rec.recorded())
	}
}

func TestDo_FatalClassification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantClass  ErrorClass
	}{
		{"forbidden", http.StatusForbidden, ErrorClassAuth},
		{"not found", http.StatusNotFound, ErrorClassNotFound},
		{"bad request", http.StatusBadRequest, ErrorClassClient},
		{"unprocessable", http.StatusUnprocessableEntity, ErrorClassClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			c, _ := newTestClient(t, server.URL, testPolicy())

			_, err := c.Get(context.Background(), "/docs/missing", nil)
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Expected *APIError, got %v", err)
			}
			if apiErr.Class != tt.wantClass {
				t.Errorf("Class = %q, want %q", apiErr.Class, tt.wantClass)
			}
			if calls != 1 {
				t.Errorf("Expected 1 call, got %d", calls)
			}
		})
	}
}

func TestDo_ServerErrorMessageFromBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message": "Doc abc not found"}`))
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, testPolicy())

	_, err := c.Get(context.Background(), "/docs/abc", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if apiErr.Message != "resource not found: Doc abc not found" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestDo_RetryExhausted(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, testPolicy())

	_, err := c.Get(context.Background(), "/docs", nil)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Class != ErrorClassServer {
		t.Errorf("Class = %q, want server", apiErr.Class)
	}
	if calls != 4 {
		t.Errorf("Expected 4 calls (MaxAttempts), got %d", calls)
	}
}

func TestDo_NetworkErrorRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	serverURL := server.URL
	server.Close() // all attempts now fail to connect

	c, rec := newTestClient(t, serverURL, testPolicy())

	_, err := c.Get(context.Background(), "/docs", nil)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %T", err)
	}
	if apiErr.Class != ErrorClassNetwork {
		t.Errorf("Class = %q, want network", apiErr.Class)
	}
	if len(rec.recorded()) != 3 {
		t.Errorf("Expected 3 backoff sleeps, got %v", rec.recorded())
	}
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			cancel()
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, testPolicy())
	c.sleep = sleepWithContext // real backoff sleep, interruptible

	_, err := c.Get(ctx, "/docs", nil)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if calls >= 4 {
		t.Errorf("Expected fewer than MaxAttempts calls, got %d", calls)
	}
}

func TestDo_PacesAfterSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c, _ := newTestClient(t, server.URL, testPolicy())

	var waits []time.Duration
	c.limiter.SetClock(time.Now, func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	})

	ctx := context.Background()
	if _, err := c.Get(ctx, "/docs", nil); err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
	if _, err := c.Get(ctx, "/docs", nil); err != nil {
		t.Fatalf("second Get() error = %v", err)
	}

	// The second call must wait on the pace scheduled by the first.
	if len(waits) == 0 {
		t.Fatal("Expected a rate limit wait before the second request")
	}
	if waits[0] <= 0 || waits[0] > 100*time.Millisecond {
		t.Errorf("Pace wait = %v, want within (0, 100ms]", waits[0])
	}
}
