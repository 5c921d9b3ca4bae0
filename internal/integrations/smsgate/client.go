// Package smsgate sends SMS through a Twilio-compatible HTTP API. No
// vendor SDK: the API is one form-encoded POST.
package smsgate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Sender interface {
	SendSMS(ctx context.Context, to, body string) error
}

type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	httpc      *http.Client
	maxRetries int
}

func New(baseURL, accountSID, authToken, from string, timeout time.Duration, maxRetries int) (*Client, error) {
	if accountSID == "" || authToken == "" {
		return nil, errors.New("sms account sid and auth token are required")
	}
	if from == "" {
		return nil, errors.New("sms from number is required")
	}
	if baseURL == "" {
		baseURL = "https://api.twilio.com/2010-04-01"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		httpc:      &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}, nil
}

func (c *Client) SendSMS(ctx context.Context, to, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, url.PathEscape(c.accountSID))

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(150*attempt) * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return errors.Wrap(err, "new request")
		}
		req.SetBasicAuth(c.accountSID, c.authToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = errors.Wrap(err, "sms request")
			continue
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode/100 == 2:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5:
			lastErr = errors.Errorf("sms gateway http %d", resp.StatusCode)
			continue
		default:
			// 4xx other than 429: retrying will not help.
			return errors.Errorf("sms gateway http %d", resp.StatusCode)
		}
	}
	return lastErr
}
