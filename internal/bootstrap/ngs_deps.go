package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/kapella-hub/ngs/adapter/out/llm"
	"github.com/kapella-hub/ngs/adapter/out/notify"
	"github.com/kapella-hub/ngs/adapter/out/persistence"
	"github.com/kapella-hub/ngs/adapter/out/provider"
	"github.com/kapella-hub/ngs/config"
	"github.com/kapella-hub/ngs/core/domain"
	"github.com/kapella-hub/ngs/core/port/out"
	"github.com/kapella-hub/ngs/core/service/correlate"
	"github.com/kapella-hub/ngs/core/service/ingest"
	"github.com/kapella-hub/ngs/core/service/maintenance"
	"github.com/kapella-hub/ngs/core/service/parser"
	"github.com/kapella-hub/ngs/core/service/review"
	"github.com/kapella-hub/ngs/infra/database"
	"github.com/kapella-hub/ngs/internal/stream"
	"github.com/kapella-hub/ngs/migrations"
	"github.com/kapella-hub/ngs/pkg/logger"
	"github.com/kapella-hub/ngs/pkg/redact"
)

// Dependencies is the wired object graph shared by the worker and the
// review API.
type Dependencies struct {
	Config *config.Config
	DB     *pgxpool.Pool
	SQLDB  *sqlx.DB
	Redis  *redis.Client

	// Repositories
	Emails     out.EmailRepository
	Events     out.EventRepository
	Incidents  out.IncidentRepository
	Windows    out.MaintenanceRepository
	Patterns   out.PatternRepository
	Quarantine out.QuarantineRepository
	DLQ        out.DLQRepository
	Idem       out.IdempotencyRepository
	Cursors    out.CursorRepository
	Configs    out.ConfigRepository

	// Messaging
	Stream    *stream.RedisStream
	Publisher out.Publisher

	// Outbound
	Provider out.MailProvider
	LLM      *llm.Client
	Notifier *notify.Fanout

	// Services
	Ingester    *ingest.Service
	Parser      *parser.Service
	Correlator  *correlate.Service
	Maintenance *maintenance.Engine

	// Review services
	QuarantineReview *review.QuarantineService
	DLQReview        *review.DLQService
	ConfigVersions   *review.ConfigVersionService
}

// NewDependencies builds the full graph. The mail provider is only
// dialed in worker modes; the API never talks to a mailbox.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// Postgres (pgxpool for health checks, sqlx for the adapters)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return fail(err)
	}
	deps.DB = db
	cleanups = append(cleanups, db.Close)

	sqlDB, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		return fail(err)
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	if err := database.Migrate(sqlDB, migrations.FS); err != nil {
		return fail(err)
	}

	// Redis
	redisClient, err := database.NewRedis(fmt.Sprintf("redis://%s/%d", cfg.RedisAddr, cfg.RedisDB))
	if err != nil {
		return fail(err)
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { redisClient.Close() })

	deps.Stream = stream.NewRedisStream(redisClient, "ngs-workers")
	deps.Stream.SetReadOptions(cfg.ConsumerBatchSize, time.Duration(cfg.ConsumerBlockMS)*time.Millisecond)
	deps.Publisher = stream.NewProducer(deps.Stream)

	// Repositories
	deps.Emails = persistence.NewEmailRepository(sqlDB)
	deps.Events = persistence.NewEventRepository(sqlDB)
	deps.Incidents = persistence.NewIncidentRepository(sqlDB)
	deps.Windows = persistence.NewMaintenanceRepository(sqlDB)
	deps.Patterns = persistence.NewPatternRepository(sqlDB)
	deps.Quarantine = persistence.NewQuarantineRepository(sqlDB)
	deps.DLQ = persistence.NewDLQRepository(sqlDB)
	deps.Idem = persistence.NewIdempotencyRepository(sqlDB)
	deps.Cursors = persistence.NewCursorRepository(sqlDB)
	deps.Configs = persistence.NewConfigRepository(sqlDB)

	// Notification fanout
	var sinks []out.NotificationSink
	if cfg.NotifyWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.NotifyWebhookURL))
	}
	if cfg.NotifySlackWebhook != "" {
		sinks = append(sinks, notify.NewSlackSink(cfg.NotifySlackWebhook))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, notify.Discard{})
		logger.Warn("no notification sink configured, notifications are discarded")
	}
	deps.Notifier = notify.NewFanout(domain.NormalizeSeverity(cfg.NotifyMinSeverity), sinks...)

	// LLM fallback
	deps.LLM = llm.NewClient(llm.Config{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Timeout:     cfg.LLMTimeout,
		RPM:         cfg.LLMRPM,
		MaxInflight: cfg.LLMMaxInflight,
	})
	cleanups = append(cleanups, deps.LLM.Close)

	// Core services
	deps.Maintenance = maintenance.NewEngine(deps.Windows, deps.Incidents, deps.Publisher, maintenance.Options{
		SubjectPrefixes: cfg.MaintSubjectPrefixes,
		CacheTTL:        cfg.WindowCacheTTL,
	})

	rules, err := parser.CompileRules(parser.DefaultRuleDefs())
	if err != nil {
		return fail(err)
	}
	deps.Parser = parser.NewService(
		deps.Emails, deps.Events, deps.Patterns, deps.Quarantine,
		deps.LLM, deps.Publisher, deps.Maintenance, rules,
		parser.Options{
			LLMMinConfidence:    cfg.LLMMinConfidence,
			QuarantineThreshold: cfg.QuarantineThreshold,
			CacheMinSuccess:     cfg.CacheMinSuccess,
			BodyExcerptBytes:    cfg.BodyExcerptBytes,
		},
	)

	deps.Correlator = correlate.NewService(deps.Events, deps.Incidents, deps.Notifier, correlate.Options{
		DedupWindow:        cfg.DedupWindow,
		FlapThreshold:      cfg.FlapThreshold,
		FlapWindow:         cfg.FlapWindow,
		ResolveQuietPeriod: cfg.ResolveQuietPeriod,
	})

	// Review services
	deps.QuarantineReview = review.NewQuarantineService(deps.Quarantine, deps.Emails, deps.Events, deps.Publisher)
	deps.DLQReview = review.NewDLQService(deps.DLQ, deps.Publisher)
	deps.ConfigVersions = review.NewConfigVersionService(deps.Configs)

	// Mail provider and ingester, worker modes only
	if cfg.Mode != "api" {
		mailProvider, err := provider.New(ctx, cfg)
		if err != nil {
			return fail(err)
		}
		deps.Provider = mailProvider
		cleanups = append(cleanups, func() {
			if err := mailProvider.Close(); err != nil {
				logger.WithError(err).Warn("mail provider close failed")
			}
		})

		redactor, err := redact.New(cfg.RedactionPatterns)
		if err != nil {
			return fail(err)
		}
		deps.Ingester = ingest.NewService(
			mailProvider, deps.Emails, deps.Cursors, deps.Idem,
			deps.Publisher, redactor,
			ingest.Options{
				BatchSize:      cfg.BatchSize,
				IdemTTL:        cfg.IdemTTL,
				IdemStaleAfter: cfg.IdemStaleAfter,
				BackfillDays:   cfg.BackfillDays,
			},
		)
	}

	return deps, cleanup, nil
}

// HealthCheck pings the stores the process depends on.
func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if err := d.DB.Ping(ctx); err != nil {
		return err
	}
	return d.Redis.Ping(ctx).Err()
}
