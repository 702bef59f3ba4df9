// Package testutil provides testing utilities for the Coda export client.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock Coda endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockCoda is a configurable mock Coda API server for testing.
type MockCoda struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount   int
	pathCounts     map[string]int
	LastAuthHeader string
}

// NewMockCoda creates a new mock Coda API server.
func NewMockCoda() *MockCoda {
	mock := &MockCoda{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		pathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.pathCounts[r.URL.Path]++
		mock.LastAuthHeader = r.Header.Get("Authorization")
		mock.mu.Unlock()

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockCoda) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCoda) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockCoda) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.pathCounts = make(map[string]int)
	m.LastAuthHeader = ""
}

// SetHandler sets a custom handler for a specific path.
func (m *MockCoda) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockCoda) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockCoda) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// PathCount returns the number of requests made to one path.
func (m *MockCoda) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pathCounts[path]
}

// SetPagedListing configures a listing endpoint that serves the given pages
// in order. Each page is a slice of raw JSON items; all but the last page
// carry a continuation token.
func (m *MockCoda) SetPagedListing(path string, pages [][]string) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		index := 0
		if token := r.URL.Query().Get("pageToken"); token != "" {
			fmt.Sscanf(token, "page-%d", &index)
		}
		if index >= len(pages) {
			http.Error(w, `{"message": "invalid page token"}`, http.StatusBadRequest)
			return
		}

		body := `{"items": [` + strings.Join(pages[index], ", ") + `]`
		if index < len(pages)-1 {
			body += fmt.Sprintf(`, "nextPageToken": "page-%d"`, index+1)
		}
		body += `}`

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	})
}

// SetExportJob wires the full submit/poll/download sequence for one page
// export. The status endpoint serves the given statuses one per poll,
// repeating the last one; a "complete" status carries a download link to a
// plain-text endpoint serving content.
func (m *MockCoda) SetExportJob(docID, pageID, requestID string, statuses []string, content string) {
	exportPath := fmt.Sprintf("/docs/%s/pages/%s/export", docID, pageID)
	statusPath := fmt.Sprintf("%s/%s", exportPath, requestID)
	downloadPath := "/export-download/" + requestID

	m.SetHandler(exportPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, `{"id": %q, "href": %q}`, requestID, m.server.URL+statusPath)
	})

	var pollCount int
	var pollMu sync.Mutex
	m.SetHandler(statusPath, func(w http.ResponseWriter, r *http.Request) {
		pollMu.Lock()
		index := pollCount
		pollCount++
		pollMu.Unlock()

		if index >= len(statuses) {
			index = len(statuses) - 1
		}
		status := statuses[index]

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if status == "complete" {
			fmt.Fprintf(w, `{"status": "complete", "downloadLink": %q}`, m.server.URL+downloadPath)
			return
		}
		fmt.Fprintf(w, `{"status": %q}`, status)
	})

	m.SetHandler(downloadPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(content))
	})
}

// defaultHandler provides a default JSON response.
func (m *MockCoda) defaultHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "ok"}`))
}

// NewHealthyResponse creates a standard 200 OK JSON response.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 response with a Retry-After header.
func NewRateLimitResponse(retryAfterSeconds string) MockResponse {
	headers := map[string]string{
		"Content-Type": "application/json; charset=utf-8",
	}
	if retryAfterSeconds != "" {
		headers["Retry-After"] = retryAfterSeconds
	}
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message": "Rate limit exceeded"}`,
		Headers:    headers,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
