package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casewatch/casewatch/internal/broker/messages"
	"github.com/casewatch/casewatch/internal/integrations/statussource"
	"github.com/casewatch/casewatch/internal/models"
	"github.com/casewatch/casewatch/internal/services/notify"
	"github.com/casewatch/casewatch/internal/storage/pgcase"
)

type fakeRepo struct {
	cfg  *models.TrackingConfig
	prev *models.StatusSnapshot

	claimErr error

	applied *pgcase.CheckResult
	alert   *models.Alert
	sentID  string
}

func (f *fakeRepo) ClaimOne(ctx context.Context, receiptNumber string, now time.Time, lease time.Duration) (*models.TrackingConfig, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	return f.cfg, nil
}

func (f *fakeRepo) GetConfig(ctx context.Context, receiptNumber string) (*models.TrackingConfig, error) {
	return f.cfg, nil
}

func (f *fakeRepo) LatestSnapshot(ctx context.Context, receiptNumber string) (*models.StatusSnapshot, error) {
	return f.prev, nil
}

func (f *fakeRepo) ApplyCheckResult(ctx context.Context, res pgcase.CheckResult) error {
	f.applied = &res
	return nil
}

func (f *fakeRepo) InsertAlert(ctx context.Context, alert *models.Alert) error {
	f.alert = alert
	return nil
}

func (f *fakeRepo) MarkAlertSent(ctx context.Context, id string, sentAt time.Time) error {
	f.sentID = id
	return nil
}

type fakeSource struct {
	snap models.StatusSnapshot
	err  error
}

func (f *fakeSource) FetchStatus(ctx context.Context, receiptNumber string) (models.StatusSnapshot, error) {
	if f.err != nil {
		return models.StatusSnapshot{}, f.err
	}
	return f.snap, nil
}

func (f *fakeSource) FetchBulk(ctx context.Context, receiptNumbers []string) ([]models.StatusSnapshot, []statussource.ItemError) {
	return nil, nil
}

type fakeDispatcher struct {
	sent []*models.Alert
}

func (f *fakeDispatcher) Send(ctx context.Context, alert *models.Alert, cfg *models.TrackingConfig) notify.SendOutcome {
	f.sent = append(f.sent, alert)
	return notify.SendOutcome{Delivered: alert.Channels}
}

type fakeProducer struct {
	events []messages.CaseChecked
	err    error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if f.err != nil {
		return f.err
	}
	var ev messages.CaseChecked
	if err := json.Unmarshal(value, &ev); err != nil {
		return err
	}
	f.events = append(f.events, ev)
	return nil
}

type fakeRL struct {
	allowed bool
	calls   int
}

func (f *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	f.calls++
	return f.allowed, 1, nil
}

func testReceipt() string {
	return fmt.Sprintf("EAC%02d90012345", time.Now().UTC().Year()%100)
}

func testCfg() *models.TrackingConfig {
	return &models.TrackingConfig{
		ReceiptNumber:        testReceipt(),
		OwnerUserID:          "u-1",
		CheckIntervalMinutes: 60,
		Enabled:              true,
		Preferences: models.NotificationPreferences{
			WebhookEnabled: true,
			WebhookURL:     "https://example.com/hook",
			Categories:     models.CategoryOptIns{StatusChange: true, Approved: true},
		},
	}
}

func testSnap(status string) models.StatusSnapshot {
	return models.StatusSnapshot{
		ReceiptNumber: testReceipt(),
		StatusText:    status,
		CaseCategory:  models.CategoryGeneral,
		ObservedAt:    time.Now().UTC(),
	}
}

func TestCheckOne_BaselineNoAlert(t *testing.T) {
	repo := &fakeRepo{cfg: testCfg()}
	src := &fakeSource{snap: testSnap("Case Was Received")}
	disp := &fakeDispatcher{}
	prod := &fakeProducer{}
	rl := &fakeRL{allowed: true}
	c := New(repo, src, disp, prod, rl, "case.checked", nil)

	snap, err := c.CheckOne(context.Background(), testReceipt())
	require.NoError(t, err)
	require.Equal(t, "Case Was Received", snap.StatusText)

	require.NotNil(t, repo.applied)
	require.NotNil(t, repo.applied.Snapshot)
	require.Nil(t, repo.applied.Error)
	require.Nil(t, repo.alert)
	require.Empty(t, disp.sent)

	require.Len(t, prod.events, 1)
	require.Empty(t, prod.events[0].AlertID)
	require.Equal(t, 1, rl.calls)
}

func TestCheckOne_TransitionAlertsAndPublishes(t *testing.T) {
	repo := &fakeRepo{cfg: testCfg()}
	prev := testSnap("Case Was Received")
	repo.prev = &prev
	src := &fakeSource{snap: testSnap("Case Was Approved")}
	disp := &fakeDispatcher{}
	prod := &fakeProducer{}
	c := New(repo, src, disp, prod, &fakeRL{allowed: true}, "case.checked", nil)

	_, err := c.CheckOne(context.Background(), testReceipt())
	require.NoError(t, err)

	require.NotNil(t, repo.alert)
	require.NotEmpty(t, repo.alert.ID)
	require.Equal(t, models.AlertCaseApproved, repo.alert.AlertType)
	require.Len(t, disp.sent, 1)
	require.Equal(t, repo.alert.ID, repo.sentID)

	require.Len(t, prod.events, 1)
	require.Equal(t, repo.alert.ID, prod.events[0].AlertID)
	require.Equal(t, models.AlertCaseApproved, prod.events[0].AlertType)
}

func TestCheckOne_DisabledMidFlightSkipsAlert(t *testing.T) {
	cfg := testCfg()
	cfg.Enabled = false // the stop landed while the fetch was in flight
	repo := &fakeRepo{cfg: cfg}
	prev := testSnap("Case Was Received")
	repo.prev = &prev
	src := &fakeSource{snap: testSnap("Case Was Approved")}
	disp := &fakeDispatcher{}
	prod := &fakeProducer{}
	c := New(repo, src, disp, prod, nil, "case.checked", nil)

	_, err := c.CheckOne(context.Background(), testReceipt())
	require.NoError(t, err)

	// snapshot kept for audit, nobody notified
	require.NotNil(t, repo.applied.Snapshot)
	require.Nil(t, repo.alert)
	require.Empty(t, disp.sent)
}

func TestCheckOne_FailurePersistsBackoff(t *testing.T) {
	cfg := testCfg()
	cfg.ConsecutiveFailures = 1
	repo := &fakeRepo{cfg: cfg}
	src := &fakeSource{err: &statussource.SourceError{Kind: statussource.KindUnavailable, StatusCode: 503, Message: "maintenance"}}
	prod := &fakeProducer{}
	c := New(repo, src, &fakeDispatcher{}, prod, nil, "case.checked", nil)

	_, err := c.CheckOne(context.Background(), testReceipt())
	require.Error(t, err)
	require.Equal(t, statussource.KindUnavailable, statussource.KindOf(err))

	require.NotNil(t, repo.applied)
	require.Nil(t, repo.applied.Snapshot)
	require.NotNil(t, repo.applied.Error)
	// second consecutive failure: 4x the hourly interval
	require.WithinDuration(t, time.Now().UTC().Add(4*time.Hour), repo.applied.NextCheckAt, 5*time.Second)

	require.Len(t, prod.events, 1)
	require.NotNil(t, prod.events[0].Error)
}

func TestCheckOne_ClaimConflict(t *testing.T) {
	repo := &fakeRepo{claimErr: models.ErrCheckInProgress}
	c := New(repo, &fakeSource{}, &fakeDispatcher{}, &fakeProducer{}, nil, "case.checked", nil)

	_, err := c.CheckOne(context.Background(), testReceipt())
	require.ErrorIs(t, err, models.ErrCheckInProgress)
	require.Nil(t, repo.applied)
}

func TestCheckClaimed_PublishFailureDoesNotFailCheck(t *testing.T) {
	repo := &fakeRepo{cfg: testCfg()}
	src := &fakeSource{snap: testSnap("Case Was Received")}
	prod := &fakeProducer{err: fmt.Errorf("broker down")}
	c := New(repo, src, &fakeDispatcher{}, prod, nil, "case.checked", nil)

	_, err := c.CheckClaimed(context.Background(), repo.cfg)
	require.NoError(t, err)
	require.NotNil(t, repo.applied)
}
