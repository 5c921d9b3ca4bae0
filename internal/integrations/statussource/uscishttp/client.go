// Package uscishttp fetches case status from the public USCIS case-status
// page and parses its markup into snapshots. The page throttles or blocks
// aggressive clients, so every wire call goes through a shared minimum-
// interval gate.
package uscishttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/casewatch/casewatch/internal/integrations/statussource"
	"github.com/casewatch/casewatch/internal/models"
	"github.com/casewatch/casewatch/internal/receipt"
)

const maxBodyBytes = 1 << 20

type Client struct {
	baseURL string
	httpc   *http.Client
	gate    *rateGate

	maxConcurrent int
	batchDelay    time.Duration
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "https://egov.uscis.gov/casestatus/mycasestatus.do"
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 15 * time.Second,
		},
		gate:          newRateGate(1 * time.Second),
		maxConcurrent: 3,
		batchDelay:    5 * time.Second,
	}
}

// WithLimits overrides the rate gate delay, per-batch concurrency and
// inter-batch delay. Zero values keep the defaults.
func (c *Client) WithLimits(rateDelay time.Duration, maxConcurrent int, batchDelay time.Duration) *Client {
	if rateDelay > 0 {
		c.gate = newRateGate(rateDelay)
	}
	if maxConcurrent > 0 {
		c.maxConcurrent = maxConcurrent
	}
	if batchDelay > 0 {
		c.batchDelay = batchDelay
	}
	return c
}

// WithTimeout overrides the per-request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if timeout > 0 {
		c.httpc.Timeout = timeout
	}
	return c
}

// rateGate serializes outbound calls: no two wire operations are issued
// closer together than delay, no matter how many goroutines call Wait.
type rateGate struct {
	mu    sync.Mutex
	delay time.Duration
	next  time.Time
}

func newRateGate(delay time.Duration) *rateGate {
	return &rateGate{delay: delay}
}

func (g *rateGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	now := time.Now()
	wakeAt := g.next
	if wakeAt.Before(now) {
		wakeAt = now
	}
	g.next = wakeAt.Add(g.delay)
	g.mu.Unlock()

	d := time.Until(wakeAt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) FetchStatus(ctx context.Context, receiptNumber string) (models.StatusSnapshot, error) {
	// Defensive: the registry validates at creation time, but ad-hoc and
	// bulk callers reach the adapter directly.
	v := receipt.Validate(receiptNumber)
	if !v.Valid {
		return models.StatusSnapshot{}, &statussource.SourceError{
			Kind:    statussource.KindValidation,
			Message: fmt.Sprintf("invalid receipt number %q", receiptNumber),
		}
	}

	if err := c.gate.Wait(ctx); err != nil {
		return models.StatusSnapshot{}, &statussource.SourceError{
			Kind:    statussource.KindTimeout,
			Message: err.Error(),
		}
	}

	body, err := c.get(ctx, v.Normalized)
	if err != nil {
		return models.StatusSnapshot{}, err
	}

	parsed, fail := parsePage(body)
	if fail != nil {
		msg := "unable to parse status page"
		if fail.sourceMessage != "" {
			msg = fail.sourceMessage
		}
		return models.StatusSnapshot{}, &statussource.SourceError{
			Kind:    statussource.KindParse,
			Message: msg,
		}
	}

	return c.toSnapshot(v, parsed), nil
}

func (c *Client) get(ctx context.Context, receiptNumber string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	q := u.Query()
	q.Set("appReceiptNum", receiptNumber)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; casewatch/1.0)")

	resp, err := c.httpc.Do(req)
	if err != nil {
		kind := statussource.KindUnavailable
		if isTimeout(err) {
			kind = statussource.KindTimeout
		}
		return "", &statussource.SourceError{Kind: kind, Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &statussource.SourceError{
			Kind: statussource.KindRateLimited, StatusCode: resp.StatusCode,
			Message: "source rate limited the client",
		}
	case resp.StatusCode == http.StatusServiceUnavailable:
		return "", &statussource.SourceError{
			Kind: statussource.KindUnavailable, StatusCode: resp.StatusCode,
			Message: "source unavailable",
		}
	case resp.StatusCode != http.StatusOK:
		return "", &statussource.SourceError{
			Kind: statussource.KindHTTP, StatusCode: resp.StatusCode,
			Message: fmt.Sprintf("unexpected http status %d", resp.StatusCode),
		}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &statussource.SourceError{
			Kind: statussource.KindUnavailable, Message: err.Error(),
		}
	}
	return string(b), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}

func (c *Client) toSnapshot(v receipt.Result, p ParsedStatus) models.StatusSnapshot {
	snap := models.StatusSnapshot{
		ReceiptNumber:    v.Normalized,
		StatusText:       p.Headline,
		StatusDate:       p.StatusDate,
		Description:      p.Description,
		FormType:         p.FormType,
		InterviewDate:    p.InterviewDate,
		BiometricsDate:   p.BiometricsDate,
		CardProducedDate: p.CardProducedDate,
		DecisionDate:     p.DecisionDate,
		NextActionDate:   p.NextActionDate,
		ObservedAt:       time.Now().UTC(),
	}
	if v.IssuerLabel != "" {
		label := v.IssuerLabel
		snap.IssuingCenter = &label
	}
	snap.CaseCategory = p.Category
	if snap.CaseCategory == "" {
		snap.CaseCategory = categoryFromIssuer(v.IssuerLabel)
	}
	return snap
}

// categoryFromIssuer is the middle fallback of the category inference
// chain: some centers handle a dominant workload type.
func categoryFromIssuer(issuerLabel string) string {
	switch {
	case strings.Contains(issuerLabel, "National Benefits"):
		return models.CategoryAdjustment
	case strings.Contains(issuerLabel, "ELIS"):
		return models.CategoryNaturalization
	default:
		return models.CategoryGeneral
	}
}

// FetchBulk partitions the identifiers into batches of maxConcurrent,
// fetches a batch concurrently (the rate gate still serializes the wire
// operations), and sleeps batchDelay between batches to avoid burst
// patterns. Per-item failures are collected, never fatal.
func (c *Client) FetchBulk(ctx context.Context, receiptNumbers []string) ([]models.StatusSnapshot, []statussource.ItemError) {
	var (
		mu    sync.Mutex
		snaps []models.StatusSnapshot
		errs  []statussource.ItemError
	)

	for start := 0; start < len(receiptNumbers); start += c.maxConcurrent {
		end := start + c.maxConcurrent
		if end > len(receiptNumbers) {
			end = len(receiptNumbers)
		}

		var wg sync.WaitGroup
		for _, rn := range receiptNumbers[start:end] {
			wg.Add(1)
			go func(rn string) {
				defer wg.Done()
				snap, err := c.FetchStatus(ctx, rn)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, statussource.ItemError{
						ReceiptNumber: rn,
						Error:         err.Error(),
						Kind:          string(statussource.KindOf(err)),
					})
					return
				}
				snaps = append(snaps, snap)
			}(rn)
		}
		wg.Wait()

		if end < len(receiptNumbers) {
			select {
			case <-ctx.Done():
				for _, rn := range receiptNumbers[end:] {
					errs = append(errs, statussource.ItemError{
						ReceiptNumber: rn,
						Error:         ctx.Err().Error(),
						Kind:          string(statussource.KindTimeout),
					})
				}
				return snaps, errs
			case <-time.After(c.batchDelay):
			}
		}
	}
	return snaps, errs
}
