// Package checks runs the single check pipeline shared by the scheduler
// and the ad-hoc refresh path: rate limit, fetch, persist, alert,
// publish.
package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/casewatch/casewatch/internal/broker/messages"
	"github.com/casewatch/casewatch/internal/integrations/statussource"
	"github.com/casewatch/casewatch/internal/models"
	"github.com/casewatch/casewatch/internal/services/alerts"
	"github.com/casewatch/casewatch/internal/services/notify"
	"github.com/casewatch/casewatch/internal/storage/pgcase"
)

type Repository interface {
	ClaimOne(ctx context.Context, receiptNumber string, now time.Time, lease time.Duration) (*models.TrackingConfig, error)
	GetConfig(ctx context.Context, receiptNumber string) (*models.TrackingConfig, error)
	LatestSnapshot(ctx context.Context, receiptNumber string) (*models.StatusSnapshot, error)
	ApplyCheckResult(ctx context.Context, res pgcase.CheckResult) error
	InsertAlert(ctx context.Context, alert *models.Alert) error
	MarkAlertSent(ctx context.Context, id string, sentAt time.Time) error
}

type Dispatcher interface {
	Send(ctx context.Context, alert *models.Alert, cfg *models.TrackingConfig) notify.SendOutcome
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Checker struct {
	repo       Repository
	source     statussource.Client
	dispatcher Dispatcher
	producer   Producer
	rl         RateLimiter
	planner    *Planner
	log        *slog.Logger

	topic              string
	lease              time.Duration
	rateLimitPerMinute int64
}

func New(repo Repository, source statussource.Client, dispatcher Dispatcher, producer Producer, rl RateLimiter, topic string, log *slog.Logger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		repo:               repo,
		source:             source,
		dispatcher:         dispatcher,
		producer:           producer,
		rl:                 rl,
		planner:            NewPlanner(),
		log:                log,
		topic:              topic,
		lease:              120 * time.Second,
		rateLimitPerMinute: 60,
	}
}

func (c *Checker) WithSettings(lease time.Duration, rateLimitPerMinute int64) *Checker {
	if lease > 0 {
		c.lease = lease
	}
	if rateLimitPerMinute > 0 {
		c.rateLimitPerMinute = rateLimitPerMinute
	}
	return c
}

// CheckOne is the ad-hoc entry: it claims the config itself and rejects
// with ErrCheckInProgress when a scheduled check holds the lease.
func (c *Checker) CheckOne(ctx context.Context, receiptNumber string) (*models.StatusSnapshot, error) {
	cfg, err := c.repo.ClaimOne(ctx, receiptNumber, time.Now().UTC(), c.lease)
	if err != nil {
		return nil, err
	}
	return c.CheckClaimed(ctx, cfg)
}

// CheckClaimed runs the pipeline for a config the caller already holds
// the lease on (the scheduler's path).
func (c *Checker) CheckClaimed(ctx context.Context, cfg *models.TrackingConfig) (*models.StatusSnapshot, error) {
	now := time.Now().UTC()

	if c.rl != nil && c.rateLimitPerMinute > 0 {
		key := fmt.Sprintf("rl:source:%s", now.Format("200601021504"))
		allowed, n, err := c.rl.Allow(ctx, key, c.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			c.log.Warn("rate limit check failed", "error", err)
		} else if !allowed {
			c.log.Warn("source rate limit reached, easing off", "count", n)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}
	}

	snap, fetchErr := c.source.FetchStatus(ctx, cfg.ReceiptNumber)
	if fetchErr != nil {
		return nil, c.recordFailure(ctx, cfg, now, fetchErr)
	}
	return c.recordSuccess(ctx, cfg, now, snap)
}

func (c *Checker) recordSuccess(ctx context.Context, cfg *models.TrackingConfig, now time.Time, snap models.StatusSnapshot) (*models.StatusSnapshot, error) {
	// The previous snapshot must be read before the append, it is the
	// other half of the diff.
	prev, err := c.repo.LatestSnapshot(ctx, cfg.ReceiptNumber)
	if err != nil {
		return nil, errors.Wrap(err, "load previous snapshot")
	}

	nextCheckAt := now.Add(c.planner.NextCheckDelay(cfg.CheckIntervalMinutes))
	if err := c.repo.ApplyCheckResult(ctx, pgcase.CheckResult{
		ReceiptNumber: cfg.ReceiptNumber,
		CheckedAt:     now,
		Snapshot:      &snap,
		NextCheckAt:   nextCheckAt,
	}); err != nil {
		return nil, errors.Wrap(err, "apply check result")
	}

	event := messages.CaseChecked{
		ReceiptNumber: cfg.ReceiptNumber,
		CheckedAt:     now,
		StatusText:    snap.StatusText,
		CaseCategory:  snap.CaseCategory,
		ObservedAt:    &snap.ObservedAt,
		NextCheckAt:   nextCheckAt,
	}

	if alert := alerts.Generate(prev, &snap, cfg); alert != nil {
		// A stop that landed mid-flight keeps the snapshot for audit but
		// must not notify anyone.
		fresh, err := c.repo.GetConfig(ctx, cfg.ReceiptNumber)
		if err == nil && fresh.Enabled {
			alert.ID = uuid.NewString()
			alert.CreatedAt = now
			if err := c.repo.InsertAlert(ctx, alert); err != nil {
				c.log.Error("insert alert", "receipt_number", cfg.ReceiptNumber, "error", err)
			} else {
				c.dispatcher.Send(ctx, alert, fresh)
				if err := c.repo.MarkAlertSent(ctx, alert.ID, time.Now().UTC()); err != nil {
					c.log.Error("mark alert sent", "alert_id", alert.ID, "error", err)
				}
				event.AlertID = alert.ID
				event.AlertType = alert.AlertType
			}
		}
	}

	c.publish(ctx, event)
	return &snap, nil
}

func (c *Checker) recordFailure(ctx context.Context, cfg *models.TrackingConfig, now time.Time, fetchErr error) error {
	msg := fetchErr.Error()
	nextFail := cfg.ConsecutiveFailures + 1
	nextCheckAt := now.Add(c.planner.BackoffDelay(cfg.CheckIntervalMinutes, nextFail))

	if err := c.repo.ApplyCheckResult(ctx, pgcase.CheckResult{
		ReceiptNumber: cfg.ReceiptNumber,
		CheckedAt:     now,
		NextCheckAt:   nextCheckAt,
		Error:         &msg,
	}); err != nil {
		c.log.Error("apply check failure", "receipt_number", cfg.ReceiptNumber, "error", err)
	}

	c.publish(ctx, messages.CaseChecked{
		ReceiptNumber: cfg.ReceiptNumber,
		CheckedAt:     now,
		NextCheckAt:   nextCheckAt,
		Error:         &msg,
	})
	return fetchErr
}

// publish is best effort with a short bounded retry; the broker may
// still be warming up right after deploy.
func (c *Checker) publish(ctx context.Context, event messages.CaseChecked) {
	if c.producer == nil {
		return
	}
	b, err := json.Marshal(event)
	if err != nil {
		c.log.Error("marshal case.checked", "error", err)
		return
	}
	key := []byte(event.ReceiptNumber)
	for i := 0; i < 5; i++ {
		if err = c.producer.Publish(ctx, c.topic, key, b); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(150*(i+1)) * time.Millisecond):
		}
	}
	c.log.Error("publish case.checked", "receipt_number", event.ReceiptNumber, "error", err)
}
