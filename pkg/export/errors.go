package export

import (
	"errors"
	"fmt"
)

// Terminal poller errors. JobError is kept distinct from the transport
// sentinels because the caller's remediation differs: a failed job is a
// definitive server-side rejection of that export request, while transport
// trouble may succeed on a fresh submission.
var (
	// ErrPollTimeout is returned when the job never reaches a terminal
	// status within the poll attempt budget.
	ErrPollTimeout = errors.New("export poll timed out")

	// ErrPollFailure is returned when too many consecutive status queries
	// fail at the transport level.
	ErrPollFailure = errors.New("too many consecutive poll failures")

	// ErrDownloadFailed is returned when the payload fetch exhausts its
	// own retry budget.
	ErrDownloadFailed = errors.New("export download failed")
)

// JobError reports a server-side export job failure.
type JobError struct {
	DocID   string
	PageID  string
	Message string
}

// Error implements the error interface.
func (e *JobError) Error() string {
	return fmt.Sprintf("export job failed for page %s in doc %s: %s", e.PageID, e.DocID, e.Message)
}
