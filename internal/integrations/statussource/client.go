// Package statussource defines the boundary to the external case-status
// source. The source is an uncooperative third party: an HTML page with no
// stable API, one client identity upstream no matter how many cases we
// poll.
package statussource

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/casewatch/casewatch/internal/models"
)

type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindUnavailable ErrorKind = "unavailable"
	KindTimeout     ErrorKind = "timeout"
	KindHTTP        ErrorKind = "http"
	KindParse       ErrorKind = "parse"
	KindValidation  ErrorKind = "validation"
)

// SourceError classifies a failed fetch. Transient kinds (rate_limited,
// unavailable, timeout) are retried by the scheduler's backoff; parse
// errors mean the upstream markup changed shape and the adapter needs
// maintenance.
type SourceError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
}

func (e *SourceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("status source %s (http %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("status source %s: %s", e.Kind, e.Message)
}

// KindOf extracts the error kind, or "" for non-source errors.
func KindOf(err error) ErrorKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// ItemError is a per-identifier failure inside a bulk fetch.
type ItemError struct {
	ReceiptNumber string `json:"receiptNumber"`
	Error         string `json:"error"`
	Kind          string `json:"kind,omitempty"`
}

type Client interface {
	// FetchStatus fetches and parses one case. Errors are *SourceError.
	FetchStatus(ctx context.Context, receiptNumber string) (models.StatusSnapshot, error)
	// FetchBulk fetches many cases with bounded concurrency. One failing
	// identifier never aborts the batch; partial results are returned
	// alongside the collected errors.
	FetchBulk(ctx context.Context, receiptNumbers []string) ([]models.StatusSnapshot, []ItemError)
}
