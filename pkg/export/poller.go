// Package export drives asynchronous Coda page export jobs to completion.
//
// The export API is a submit/poll/download protocol: a POST initiates a
// server-side job, a status endpoint is polled until the job reaches a
// terminal state, and the finished payload is fetched from a short-lived
// signed URL outside the main API. The poller models this as an explicit
// state machine: Submitted -> Polling -> {Complete | Failed | TimedOut}.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zah/coda-exporter/pkg/client"
)

// Prometheus metrics for export job operations.
var (
	exportJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coda_export_jobs_total",
		Help: "Total export jobs by outcome",
	}, []string{"outcome"})

	exportPollAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coda_export_poll_attempts",
		Help:    "Status poll attempts per export job",
		Buckets: []float64{1, 2, 5, 10, 20, 40},
	})

	exportDownloadRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coda_export_download_retries_total",
		Help: "Total export download retry attempts",
	})
)

// Format is a page export output format accepted by the API.
type Format string

const (
	// FormatMarkdown exports the page as Markdown.
	FormatMarkdown Format = "markdown"

	// FormatHTML exports the page as HTML.
	FormatHTML Format = "html"
)

// Job statuses reported by the status endpoint.
const (
	StatusSubmitted  = "submitted"
	StatusInProgress = "inProgress"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
)

// Job identifies a submitted export job.
type Job struct {
	ID   string `json:"id"`
	Href string `json:"href"`
}

// jobStatus is the wire shape of one status poll response.
type jobStatus struct {
	Status       string `json:"status"`
	DownloadLink string `json:"downloadLink"`
	Error        string `json:"error"`
}

// pollState is the loop state for one job's lifecycle. It is a value passed
// through the poll loop, discarded when the job resolves.
type pollState struct {
	attempt             int
	consecutiveFailures int
	lastStatus          string
}

// Config holds the poller configuration.
type Config struct {
	// MaxPollAttempts bounds the poll loop. With the default interval the
	// default budget is roughly two minutes.
	MaxPollAttempts int

	// PollInterval is the fixed delay between status queries.
	PollInterval time.Duration

	// FailureDelay is the extended wait after a failed status query.
	FailureDelay time.Duration

	// MaxConsecutiveFailures aborts the poll loop once this many status
	// queries fail in a row. A successful poll resets the counter.
	MaxConsecutiveFailures int

	// NotFoundGraceAttempts is the number of early poll attempts during
	// which a 404 from the status endpoint is treated as job registration
	// lag rather than a failure.
	NotFoundGraceAttempts int

	// NotFoundDelay is the wait applied after an early 404.
	NotFoundDelay time.Duration

	// DownloadAttempts bounds the payload fetch retries.
	DownloadAttempts int

	// DownloadBaseDelay is the first download retry delay; subsequent
	// retries double it.
	DownloadBaseDelay time.Duration

	// DownloadTimeout bounds one payload fetch, sized for large downloads.
	DownloadTimeout time.Duration
}

// DefaultConfig returns the default poller configuration.
func DefaultConfig() Config {
	return Config{
		MaxPollAttempts:        40,
		PollInterval:           3 * time.Second,
		FailureDelay:           5 * time.Second,
		MaxConsecutiveFailures: 3,
		NotFoundGraceAttempts:  5,
		NotFoundDelay:          5 * time.Second,
		DownloadAttempts:       3,
		DownloadBaseDelay:      1 * time.Second,
		DownloadTimeout:        60 * time.Second,
	}
}

// Poller submits export jobs and drives them to completion.
// Safe for concurrent use across jobs.
type Poller struct {
	client *client.Client

	// download bypasses the API client: the download link is a short-lived
	// signed URL with its own auth and retry semantics.
	download *http.Client

	cfg    Config
	logger zerolog.Logger

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller on top of an API client.
func NewPoller(c *client.Client, cfg Config) *Poller {
	defaults := DefaultConfig()
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = defaults.MaxPollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.FailureDelay <= 0 {
		cfg.FailureDelay = defaults.FailureDelay
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = defaults.MaxConsecutiveFailures
	}
	if cfg.NotFoundGraceAttempts <= 0 {
		cfg.NotFoundGraceAttempts = defaults.NotFoundGraceAttempts
	}
	if cfg.NotFoundDelay <= 0 {
		cfg.NotFoundDelay = defaults.NotFoundDelay
	}
	if cfg.DownloadAttempts <= 0 {
		cfg.DownloadAttempts = defaults.DownloadAttempts
	}
	if cfg.DownloadBaseDelay <= 0 {
		cfg.DownloadBaseDelay = defaults.DownloadBaseDelay
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaults.DownloadTimeout
	}

	return &Poller{
		client: c,
		download: &http.Client{
			Timeout: cfg.DownloadTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: client.DefaultConnectTimeout,
				}).DialContext,
			},
		},
		cfg:    cfg,
		logger: log.With().Str("component", "coda-export").Logger(),
		sleep:  sleepWithContext,
	}
}

// ExportPage runs one page export end to end and returns the exported
// content as text.
func (p *Poller) ExportPage(ctx context.Context, docID, pageID string, format Format) (string, error) {
	job, err := p.submit(ctx, docID, pageID, format)
	if err != nil {
		return "", err
	}

	downloadLink, err := p.poll(ctx, docID, pageID, job)
	if err != nil {
		return "", err
	}

	return p.fetchDownload(ctx, pageID, downloadLink)
}

// submit initiates the export job.
func (p *Poller) submit(ctx context.Context, docID, pageID string, format Format) (*Job, error) {
	endpoint := fmt.Sprintf("/docs/%s/pages/%s/export", docID, pageID)

	resp, err := p.client.Post(ctx, endpoint, map[string]string{
		"outputFormat": string(format),
	})
	if err != nil {
		return nil, fmt.Errorf("submit export for page %s: %w", pageID, err)
	}

	var job Job
	if err := resp.Decode(&job); err != nil {
		return nil, fmt.Errorf("decode export job for page %s: %w", pageID, err)
	}

	p.logger.Debug().
		Str("doc_id", docID).
		Str("page_id", pageID).
		Str("request_id", job.ID).
		Str("format", string(format)).
		Msg("Initiated page export")

	return &job, nil
}

// poll drives the status endpoint until the job resolves, the consecutive
// failure cap is exceeded, or the attempt budget runs out.
func (p *Poller) poll(ctx context.Context, docID, pageID string, job *Job) (string, error) {
	statusEndpoint := fmt.Sprintf("/docs/%s/pages/%s/export/%s", docID, pageID, job.ID)

	state := pollState{}
	for ; state.attempt < p.cfg.MaxPollAttempts; state.attempt++ {
		resp, err := p.client.Get(ctx, statusEndpoint, nil)
		if err != nil {
			next, pollErr := p.handlePollError(ctx, pageID, state, err)
			if pollErr != nil {
				exportJobsTotal.WithLabelValues("transport_error").Inc()
				return "", pollErr
			}
			state = next
			continue
		}

		state.consecutiveFailures = 0

		var status jobStatus
		if err := resp.Decode(&status); err != nil {
			return "", fmt.Errorf("decode export status for page %s: %w", pageID, err)
		}
		state.lastStatus = status.Status

		switch status.Status {
		case StatusComplete:
			exportJobsTotal.WithLabelValues("complete").Inc()
			exportPollAttempts.Observe(float64(state.attempt + 1))
			p.logger.Debug().
				Str("page_id", pageID).
				Int("attempts", state.attempt+1).
				Msg("Export complete")
			return status.DownloadLink, nil

		case StatusFailed:
			// Definitive job outcome; never retried.
			exportJobsTotal.WithLabelValues("failed").Inc()
			message := status.Error
			if message == "" {
				message = "unknown error"
			}
			return "", &JobError{DocID: docID, PageID: pageID, Message: message}
		}

		if state.attempt > 0 && state.attempt%10 == 0 {
			p.logger.Debug().
				Str("page_id", pageID).
				Str("status", status.Status).
				Int("attempt", state.attempt+1).
				Int("max_attempts", p.cfg.MaxPollAttempts).
				Msg("Export still in progress")
		}

		if err := p.sleep(ctx, p.cfg.PollInterval); err != nil {
			return "", err
		}
	}

	exportJobsTotal.WithLabelValues("timeout").Inc()
	return "", fmt.Errorf("%w: page %s still %q after %d attempts",
		ErrPollTimeout, pageID, state.lastStatus, p.cfg.MaxPollAttempts)
}

// handlePollError applies the transient tolerance rules to one failed status
// query. It returns the updated state, or a terminal error once the
// consecutive failure cap is exceeded.
func (p *Poller) handlePollError(ctx context.Context, pageID string, state pollState, err error) (pollState, error) {
	// Freshly submitted jobs are not always immediately queryable. An early
	// 404 is registration lag, retried with a longer wait and not counted
	// against the failure cap. Late 404s mean a genuinely missing job and
	// take the normal path.
	var apiErr *client.APIError
	if errors.As(err, &apiErr) &&
		apiErr.Class == client.ErrorClassNotFound &&
		state.attempt < p.cfg.NotFoundGraceAttempts {
		p.logger.Debug().
			Str("page_id", pageID).
			Int("attempt", state.attempt+1).
			Msg("Export not yet available, retrying")
		return state, p.sleep(ctx, p.cfg.NotFoundDelay)
	}

	state.consecutiveFailures++
	if state.consecutiveFailures >= p.cfg.MaxConsecutiveFailures {
		return state, fmt.Errorf("%w: %d failures polling export for page %s: %v",
			ErrPollFailure, state.consecutiveFailures, pageID, err)
	}

	p.logger.Warn().
		Err(err).
		Str("page_id", pageID).
		Int("failures", state.consecutiveFailures).
		Int("max_failures", p.cfg.MaxConsecutiveFailures).
		Msg("Polling error")

	return state, p.sleep(ctx, p.cfg.FailureDelay)
}

// fetchDownload retrieves the finished payload. The link lives outside the
// API's auth and rate-limit semantics, so it gets its own bounded retry
// instead of going through the API client.
func (p *Poller) fetchDownload(ctx context.Context, pageID, downloadLink string) (string, error) {
	var lastErr error

	delay := p.cfg.DownloadBaseDelay
	for attempt := 0; attempt < p.cfg.DownloadAttempts; attempt++ {
		if attempt > 0 {
			exportDownloadRetriesTotal.Inc()
			p.logger.Warn().
				Err(lastErr).
				Str("page_id", pageID).
				Int("attempt", attempt+1).
				Msg("Retrying export download")
			if err := p.sleep(ctx, delay); err != nil {
				return "", err
			}
			delay *= 2
		}

		content, err := p.downloadOnce(ctx, downloadLink)
		if err != nil {
			lastErr = err
			continue
		}
		return content, nil
	}

	exportJobsTotal.WithLabelValues("download_error").Inc()
	return "", fmt.Errorf("%w after %d attempts for page %s: %v",
		ErrDownloadFailed, p.cfg.DownloadAttempts, pageID, lastErr)
}

// downloadOnce performs one payload fetch. No Authorization header: the
// signed URL carries its own credentials.
func (p *Poller) downloadOnce(ctx context.Context, downloadLink string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadLink, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.download.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// sleepWithContext waits for d or until ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("export wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
