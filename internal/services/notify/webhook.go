package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/casewatch/casewatch/internal/models"
)

type webhookPayload struct {
	ReceiptNumber string               `json:"receiptNumber"`
	AlertType     string               `json:"alertType"`
	Title         string               `json:"title"`
	Message       string               `json:"message"`
	Priority      string               `json:"priority"`
	Timestamp     time.Time            `json:"timestamp"`
	Metadata      models.AlertMetadata `json:"metadata"`
}

type webhookSender struct {
	httpc      *http.Client
	maxRetries int
}

func newWebhookSender(timeout time.Duration, maxRetries int) *webhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &webhookSender{
		httpc:      &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

func (d *Dispatcher) sendWebhook(ctx context.Context, alert *models.Alert, cfg *models.TrackingConfig) error {
	url := cfg.Preferences.WebhookURL
	if url == "" {
		return errors.New("no webhook url on config")
	}

	body, err := json.Marshal(webhookPayload{
		ReceiptNumber: alert.ReceiptNumber,
		AlertType:     alert.AlertType,
		Title:         alert.Title,
		Message:       alert.Message,
		Priority:      alert.Priority,
		Timestamp:     alert.CreatedAt,
		Metadata:      alert.Metadata,
	})
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}

	return d.webhook.post(ctx, url, body)
}

func (w *webhookSender) post(ctx context.Context, url string, body []byte) error {
	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(200*attempt) * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return errors.Wrap(err, "new request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.httpc.Do(req)
		if err != nil {
			lastErr = errors.Wrap(err, "webhook request")
			continue
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()

		if resp.StatusCode/100 == 2 {
			return nil
		}
		lastErr = errors.Errorf("webhook http %d", resp.StatusCode)
		if resp.StatusCode/100 == 4 && resp.StatusCode != http.StatusTooManyRequests {
			return lastErr
		}
	}
	return lastErr
}
