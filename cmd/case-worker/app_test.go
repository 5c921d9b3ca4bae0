package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casewatch/casewatch/config"
	"github.com/casewatch/casewatch/internal/integrations/statussource"
	"github.com/casewatch/casewatch/internal/integrations/statussource/fake"
	"github.com/casewatch/casewatch/internal/integrations/statussource/uscishttp"
	"github.com/casewatch/casewatch/internal/models"
	"github.com/casewatch/casewatch/internal/services/checks"
	"github.com/casewatch/casewatch/internal/services/notify"
	"github.com/casewatch/casewatch/internal/storage/pgcase"
)

type fakeRepo struct{}

func (r *fakeRepo) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.TrackingConfig, error) {
	return []*models.TrackingConfig{}, nil
}

func (r *fakeRepo) ClaimOne(ctx context.Context, receiptNumber string, now time.Time, lease time.Duration) (*models.TrackingConfig, error) {
	return nil, models.ErrNotFound
}

func (r *fakeRepo) GetConfig(ctx context.Context, receiptNumber string) (*models.TrackingConfig, error) {
	return nil, models.ErrNotFound
}

func (r *fakeRepo) LatestSnapshot(ctx context.Context, receiptNumber string) (*models.StatusSnapshot, error) {
	return nil, nil
}

func (r *fakeRepo) ApplyCheckResult(ctx context.Context, res pgcase.CheckResult) error { return nil }

func (r *fakeRepo) InsertAlert(ctx context.Context, alert *models.Alert) error { return nil }

func (r *fakeRepo) MarkAlertSent(ctx context.Context, id string, sentAt time.Time) error { return nil }

type noopProducer struct{}

func (noopProducer) Publish(ctx context.Context, topic string, key, value []byte) error { return nil }

type noopDispatcher struct{}

func (noopDispatcher) Send(ctx context.Context, alert *models.Alert, cfg *models.TrackingConfig) notify.SendOutcome {
	return notify.SendOutcome{}
}

func TestNewSourceClient_Selection(t *testing.T) {
	cfgFake := &config.Config{CaseWatch: config.CaseWatchConfig{SourceMode: "fake"}}
	_, ok := newSourceClient(cfgFake).(*fake.Client)
	require.True(t, ok)

	// no mode and no base url falls back to the fake
	_, ok = newSourceClient(&config.Config{}).(*fake.Client)
	require.True(t, ok)

	cfgReal := &config.Config{CaseWatch: config.CaseWatchConfig{
		SourceMode:    "uscis",
		SourceBaseURL: "http://localhost:9000/status",
	}}
	_, ok = newSourceClient(cfgReal).(*uscishttp.Client)
	require.True(t, ok)
}

func TestDefaultWorkerFactories_NonNil(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	require.NotNil(t, f.newProducer(cfg))
	require.NotNil(t, f.newRateLimiter(cfg))
	require.NotNil(t, f.newSource(cfg))
	require.NotNil(t, f.newDispatcher(cfg))
}

func TestRunCaseWorker_ContextCanceled(t *testing.T) {
	calledClose := false

	f := workerFactories{
		newStorage: func(cfg *config.Config) (workerRepository, func(), error) {
			return &fakeRepo{}, func() { calledClose = true }, nil
		},
		newProducer: func(cfg *config.Config) checks.Producer {
			return noopProducer{}
		},
		newRateLimiter: func(cfg *config.Config) checks.RateLimiter {
			return nil
		},
		newSource: func(cfg *config.Config) statussource.Client {
			return fake.New()
		},
		newDispatcher: func(cfg *config.Config) checks.Dispatcher {
			return noopDispatcher{}
		},
	}

	cfg := &config.Config{
		Kafka:     config.KafkaConfig{CaseCheckedTopicName: "t"},
		CaseWatch: config.CaseWatchConfig{WorkerPollIntervalSeconds: 1, WorkerHTTPAddr: "127.0.0.1:0"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunCaseWorker(ctx, cfg, f)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}
