package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/casewatch/casewatch/config"
	"github.com/casewatch/casewatch/internal/api/caseapi"
	"github.com/casewatch/casewatch/internal/broker/kafka"
	"github.com/casewatch/casewatch/internal/broker/messages"
	"github.com/casewatch/casewatch/internal/cache"
	"github.com/casewatch/casewatch/internal/cache/rediscache"
	"github.com/casewatch/casewatch/internal/integrations/mailer"
	"github.com/casewatch/casewatch/internal/integrations/smsgate"
	"github.com/casewatch/casewatch/internal/integrations/statussource"
	"github.com/casewatch/casewatch/internal/integrations/statussource/fake"
	"github.com/casewatch/casewatch/internal/integrations/statussource/uscishttp"
	"github.com/casewatch/casewatch/internal/models"
	"github.com/casewatch/casewatch/internal/services/analytics"
	"github.com/casewatch/casewatch/internal/services/checks"
	"github.com/casewatch/casewatch/internal/services/notify"
	"github.com/casewatch/casewatch/internal/services/tracking"
	"github.com/casewatch/casewatch/internal/storage/pgcase"
)

type apiRepository interface {
	tracking.Repository
	checks.Repository
	analytics.Repository
}

// alertDispatcher is what the api needs from notify: the pipeline's
// fan-out plus the control surface's test delivery.
type alertDispatcher interface {
	Send(ctx context.Context, alert *models.Alert, cfg *models.TrackingConfig) notify.SendOutcome
	SendTest(ctx context.Context, channel, recipient string) error
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type apiFactories struct {
	newStorage     func(cfg *config.Config) (repo apiRepository, closeFn func(), err error)
	newCache       func(cfg *config.Config) cache.BytesCache
	newProducer    func(cfg *config.Config) checks.Producer
	newRateLimiter func(cfg *config.Config) checks.RateLimiter
	newSource      func(cfg *config.Config) statussource.Client
	newDispatcher  func(cfg *config.Config) alertDispatcher
	newConsumer    func(cfg *config.Config, topic, group string) (kafkaConsumer, func())
}

func defaultAPIFactories() apiFactories {
	return apiFactories{
		newStorage: func(cfg *config.Config) (apiRepository, func(), error) {
			st, err := pgcase.New(connString(cfg))
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			return rediscache.New(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		},
		newProducer: func(cfg *config.Config) checks.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) checks.RateLimiter {
			return rediscache.NewRateLimiter(fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port))
		},
		newSource:     newSourceClient,
		newDispatcher: newDispatcher,
		newConsumer: func(cfg *config.Config, topic, group string) (kafkaConsumer, func()) {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			c := kafka.NewConsumer(brokers, topic, group)
			return c, func() { _ = c.Close() }
		},
	}
}

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

func newDispatcher(cfg *config.Config) alertDispatcher {
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

func RunCaseAPI(ctx context.Context, cfg *config.Config, f apiFactories) error {
	httpAddr := cfg.CaseWatch.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.CaseWatch.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "case-api"
	}
	topic := cfg.Kafka.CaseCheckedTopicName
	if topic == "" {
		topic = "case.checked"
	}
	cacheTTL := time.Duration(cfg.CaseWatch.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	lease := time.Duration(cfg.CaseWatch.WorkerLeaseSeconds) * time.Second
	rlPerMin := int64(cfg.CaseWatch.WorkerRateLimitPerMinute)

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	source := f.newSource(cfg)
	dispatcher := f.newDispatcher(cfg)

	svc := tracking.New(repo, f.newCache(cfg), cacheTTL)
	checker := checks.New(repo, source, dispatcher, f.newProducer(cfg), f.newRateLimiter(cfg), topic, slog.Default()).
		WithSettings(lease, rlPerMin)
	api := caseapi.New(svc, checker, analytics.New(repo), dispatcher, source, slog.Default())

	consumer, closeConsumer := f.newConsumer(cfg, topic, consumerGroup)
	if closeConsumer != nil {
		defer closeConsumer()
	}
	go func() {
		slog.Info("kafka consumer started", "topic", topic, "group", consumerGroup)
		_ = consumer.Consume(ctx, func(_ []byte, value []byte) error {
			var ev messages.CaseChecked
			if err := json.Unmarshal(value, &ev); err != nil {
				return err
			}
			// The checker already persisted; this side only refreshes the
			// read cache.
			return svc.RefreshSnapshotCache(ctx, ev.ReceiptNumber)
		})
	}()

	return runHTTPServer(ctx, httpAddr, api)
}

func runHTTPServer(ctx context.Context, httpAddr string, api *caseapi.API) error {
	lis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	r.Mount("/", api.Routes())

	if swaggerPath := os.Getenv("swaggerPath"); swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, req, swaggerPath)
		})
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/swagger.json")))
	}

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	err = srv.Serve(lis)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
