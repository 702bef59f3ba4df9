// Package metrics provides the centralized Prometheus metrics reference for
// the Coda export client. All metrics are defined in their respective
// packages (client, export, ratelimit) via promauto to maintain modularity
// and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - coda_api_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - coda_api_request_duration_seconds{endpoint} (Histogram): Logical request duration by endpoint
//   - coda_api_errors_total{class} (Counter): Errors by class (network, rate_limit, server, auth, not_found, client)
//
// Retry Metrics (pkg/client):
//   - coda_api_retries_total{class} (Counter): Retry attempts by error class
//   - coda_api_retry_backoff_seconds{class} (Histogram): Backoff duration by error class
//   - coda_api_retry_exhausted_total{class} (Counter): Requests that exhausted max attempts
//
// Rate Limit Metrics (pkg/ratelimit):
//   - coda_rate_limit_waits_total (Counter): Requests that waited on the shared pacing deadline
//   - coda_rate_limit_wait_seconds (Histogram): Time spent waiting on the deadline
//   - coda_rate_limit_holds_total (Counter): Server-directed holds (429 Retry-After)
//
// Export Metrics (pkg/export):
//   - coda_export_jobs_total{outcome} (Counter): Jobs by outcome (complete, failed, timeout, transport_error, download_error)
//   - coda_export_poll_attempts (Histogram): Status poll attempts per job
//   - coda_export_download_retries_total (Counter): Download retry attempts
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   rate(coda_api_errors_total[5m])
//
//   # Export Job Failure Ratio
//   sum(rate(coda_export_jobs_total{outcome!="complete"}[15m])) /
//   sum(rate(coda_export_jobs_total[15m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(coda_api_request_duration_seconds_bucket[5m]))
//
//   # Time Lost to Rate Limiting
//   rate(coda_rate_limit_wait_seconds_sum[5m])
