package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/casewatch/casewatch/config"
	"github.com/casewatch/casewatch/internal/broker/kafka"
	"github.com/casewatch/casewatch/internal/cache/rediscache"
	"github.com/casewatch/casewatch/internal/integrations/mailer"
	"github.com/casewatch/casewatch/internal/integrations/smsgate"
	"github.com/casewatch/casewatch/internal/integrations/statussource"
	"github.com/casewatch/casewatch/internal/integrations/statussource/fake"
	"github.com/casewatch/casewatch/internal/integrations/statussource/uscishttp"
	"github.com/casewatch/casewatch/internal/services/checks"
	"github.com/casewatch/casewatch/internal/services/notify"
	"github.com/casewatch/casewatch/internal/services/scheduler"
	"github.com/casewatch/casewatch/internal/storage/pgcase"
)

type workerRepository interface {
	scheduler.Repository
	checks.Repository
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo workerRepository, closeFn func(), err error)
	newProducer    func(cfg *config.Config) checks.Producer
	newRateLimiter func(cfg *config.Config) checks.RateLimiter
	newSource      func(cfg *config.Config) statussource.Client
	newDispatcher  func(cfg *config.Config) checks.Dispatcher
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerRepository, func(), error) {
			st, err := pgcase.New(connString(cfg))
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) checks.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) checks.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newSource:     newSourceClient,
		newDispatcher: newDispatcher,
	}
}

// newSourceClient picks the real adapter when a base URL is configured,
// the deterministic fake otherwise.
func newSourceClient(cfg *config.Config) statussource.Client {
	cw := cfg.CaseWatch
	if cw.SourceMode == "fake" || (cw.SourceMode == "" && cw.SourceBaseURL == "") {
		return fake.New()
	}
	c := uscishttp.New(cw.SourceBaseURL).
		WithLimits(
			time.Duration(cw.SourceRateDelaySeconds*float64(time.Second)),
			cw.SourceMaxConcurrent,
			time.Duration(cw.SourceBatchDelaySeconds*float64(time.Second)),
		)
	if cw.SourceTimeoutSeconds > 0 {
		c = c.WithTimeout(time.Duration(cw.SourceTimeoutSeconds) * time.Second)
	}
	return c
}

func newDispatcher(cfg *config.Config) checks.Dispatcher {
	var mail mailer.Sender
	if m, err := mailer.NewSMTP(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From); err == nil {
		mail = m
	} else {
		slog.Warn("email transport disabled", "error", err)
	}

	var sms smsgate.Sender
	smsTimeout := time.Duration(cfg.SMS.TimeoutSeconds) * time.Second
	if s, err := smsgate.New(cfg.SMS.BaseURL, cfg.SMS.AccountSID, cfg.SMS.AuthToken, cfg.SMS.From, smsTimeout, cfg.SMS.MaxRetries); err == nil {
		sms = s
	} else {
		slog.Warn("sms transport disabled", "error", err)
	}

	return notify.New(mail, sms,
		time.Duration(cfg.CaseWatch.WebhookTimeoutSeconds)*time.Second,
		cfg.CaseWatch.WebhookMaxRetries,
		slog.Default())
}

func connString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func RunCaseWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	topic := cfg.Kafka.CaseCheckedTopicName
	if topic == "" {
		topic = "case.checked"
	}

	cw := cfg.CaseWatch
	pollInterval := time.Duration(cw.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	batchSize := cw.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 50
	}
	concurrency := cw.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	lease := time.Duration(cw.WorkerLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}
	rlPerMin := int64(cw.WorkerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 60
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	checker := checks.New(repo, f.newSource(cfg), f.newDispatcher(cfg), f.newProducer(cfg), f.newRateLimiter(cfg), topic, slog.Default()).
		WithSettings(lease, rlPerMin)

	sched := scheduler.New(repo, checker, slog.Default()).
		WithSettings(pollInterval, batchSize, concurrency, lease)

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:  cw.WorkerHTTPAddr,
			scheduler: sched,
			cfg:       cfg,
		})
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- sched.Run(ctx) }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-runErr:
		return err
	case err := <-httpErr:
		return err
	}
}
