// Package notify fans an alert out to its resolved channels. Delivery
// is best effort: a failed channel is logged, never propagated.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/casewatch/casewatch/internal/integrations/mailer"
	"github.com/casewatch/casewatch/internal/integrations/smsgate"
	"github.com/casewatch/casewatch/internal/models"
)

type SendOutcome struct {
	Attempted []string
	Delivered []string
	Failed    map[string]string
}

type Dispatcher struct {
	mail    mailer.Sender
	sms     smsgate.Sender
	webhook *webhookSender
	log     *slog.Logger
}

func New(mail mailer.Sender, sms smsgate.Sender, webhookTimeout time.Duration, webhookRetries int, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		mail:    mail,
		sms:     sms,
		webhook: newWebhookSender(webhookTimeout, webhookRetries),
		log:     log,
	}
}

// Send attempts every resolved channel concurrently and reports what
// got through. It never returns an error; the caller stamps sentAt
// once the outcome settles.
func (d *Dispatcher) Send(ctx context.Context, alert *models.Alert, cfg *models.TrackingConfig) SendOutcome {
	out := SendOutcome{Failed: map[string]string{}}
	if alert == nil || len(alert.Channels) == 0 {
		return out
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(channel string, err error) {
		mu.Lock()
		defer mu.Unlock()
		out.Attempted = append(out.Attempted, channel)
		if err != nil {
			out.Failed[channel] = err.Error()
			d.log.Warn("alert delivery failed",
				"channel", channel,
				"receipt_number", alert.ReceiptNumber,
				"alert_type", alert.AlertType,
				"error", err)
			return
		}
		out.Delivered = append(out.Delivered, channel)
	}

	for _, channel := range alert.Channels {
		ch := channel
		wg.Add(1)
		go func() {
			defer wg.Done()
			record(ch, d.sendOne(ctx, ch, alert, cfg))
		}()
	}
	wg.Wait()
	return out
}

func (d *Dispatcher) sendOne(ctx context.Context, channel string, alert *models.Alert, cfg *models.TrackingConfig) error {
	switch channel {
	case models.ChannelEmail:
		return d.sendEmail(ctx, alert, cfg)
	case models.ChannelSMS:
		return d.sendSMS(ctx, alert, cfg)
	case models.ChannelWebhook:
		return d.sendWebhook(ctx, alert, cfg)
	default:
		return errUnknownChannel(channel)
	}
}

// SendTest delivers a synthetic low-priority alert to one channel. It
// never touches history or alert storage.
func (d *Dispatcher) SendTest(ctx context.Context, channel, recipient string) error {
	alert := &models.Alert{
		ID:            uuid.NewString(),
		ReceiptNumber: "TEST0000000000",
		AlertType:     models.AlertStatusChange,
		Title:         "Test notification",
		Message:       "This is a test notification. Your alert channel is working.",
		Priority:      models.PriorityLow,
		Channels:      []string{channel},
		CreatedAt:     time.Now().UTC(),
	}

	cfg := &models.TrackingConfig{ReceiptNumber: alert.ReceiptNumber}
	switch channel {
	case models.ChannelEmail:
		cfg.ContactEmail = &recipient
	case models.ChannelSMS:
		cfg.ContactPhone = &recipient
	case models.ChannelWebhook:
		cfg.Preferences.WebhookURL = recipient
	default:
		return errUnknownChannel(channel)
	}

	return d.sendOne(ctx, channel, alert, cfg)
}

type errUnknownChannel string

func (e errUnknownChannel) Error() string { return "unknown channel " + string(e) }
