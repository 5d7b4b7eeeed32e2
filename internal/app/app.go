// Package app builds the service component graph from configuration. The
// server and the CLI share it so both run against the same stores.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/leadforge/mission-service/config"
	"github.com/leadforge/mission-service/internal/auditlog"
	"github.com/leadforge/mission-service/internal/auth"
	"github.com/leadforge/mission-service/internal/campaigns"
	"github.com/leadforge/mission-service/internal/database"
	"github.com/leadforge/mission-service/internal/followup"
	httpclient "github.com/leadforge/mission-service/internal/http"
	"github.com/leadforge/mission-service/internal/http/ratelimit"
	"github.com/leadforge/mission-service/internal/jobs"
	"github.com/leadforge/mission-service/internal/leadlock"
	"github.com/leadforge/mission-service/internal/missions"
	"github.com/leadforge/mission-service/internal/pipeline"
	"github.com/leadforge/mission-service/internal/providers"
	"github.com/leadforge/mission-service/internal/quota"
	"github.com/leadforge/mission-service/internal/storage"
	"github.com/leadforge/mission-service/internal/taskqueue"
	"github.com/leadforge/mission-service/internal/workers"
)

// App holds the wired services.
type App struct {
	Config    *config.Config
	Pool      *pgxpool.Pool
	Audit     *auditlog.PostgresAppender
	Tasks     *taskqueue.Queue
	Quota     *quota.Ledger
	Missions  *missions.PostgresRepository
	Campaigns *campaigns.PostgresRepository
	Locks     *leadlock.Manager
	Auth      *auth.Service
	Trigger   *missions.TriggerService
	Storage   storage.Storage
	Stages    *pipeline.Stages
	Processor *workers.Processor
	Followups *followup.Scheduler
	Cleaner   *jobs.Cleaner

	natsConn *nats.Conn
}

// InitLogger builds the root logger from the logging settings.
func InitLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var output io.Writer
	if cfg.Format == "json" {
		output = os.Stdout
	} else {
		output = zerolog.ConsoleWriter{Out: os.Stdout, NoColor: cfg.NoColor}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Str("service", "mission-service").Logger()
}

// Connect opens the database pool and applies the schema when auto_migrate
// is set.
func Connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database.url (DATABASE_URL) is not set")
	}
	pool, err := database.Connect(ctx, database.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConnections,
		MinConns:        cfg.Database.MinConnections,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("Database connected")

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Msg("Schema applied")
	}
	return pool, nil
}

// Build wires every service on top of pool.
func Build(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Pool: pool}

	authSvc, err := auth.NewService(auth.Options{
		Secret:         cfg.Auth.TokenSecret,
		OrganizationID: cfg.Auth.OrganizationID,
		AllowedScopes:  cfg.Auth.AllowedScopes,
		MaxTTLSeconds:  cfg.Auth.MaxTTLSeconds,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.Auth = authSvc

	a.Audit = auditlog.NewPostgresAppender(pool, logger)
	a.Tasks = taskqueue.New(taskqueue.NewPostgresRepository(pool), a.Audit, logger)
	a.Quota = quota.NewLedger(quota.NewPostgresRepository(pool), quota.Limits{
		DailySearchLimit:      cfg.Quota.DailySearchLimit,
		DailySearchRunsLimit:  cfg.Quota.DailySearchRunsLimit,
		DailyEnrichLimit:      cfg.Quota.DailyEnrichLimit,
		DailyInvestigateLimit: cfg.Quota.DailyInvestigateLimit,
		DailyContactLimit:     cfg.Quota.DailyContactLimit,
	}, logger)
	a.Missions = missions.NewPostgresRepository(pool)
	a.Campaigns = campaigns.NewPostgresRepository(pool)
	a.Trigger = missions.NewTriggerService(a.Missions, a.Tasks, a.Quota, logger)

	lockRepo, err := a.lockRepository(ctx, pool, logger)
	if err != nil {
		return nil, err
	}
	a.Locks = leadlock.NewManager(lockRepo, logger)

	a.Storage, err = storage.New(cfg.Storage.Type, cfg.Storage.BasePath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	provs, err := buildProviders(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Stages = pipeline.New(pipeline.Deps{
		Tasks:     a.Tasks,
		Quota:     a.Quota,
		Locks:     a.Locks,
		Missions:  a.Missions,
		Campaigns: a.Campaigns,
		Providers: provs,
		Storage:   a.Storage,
	}, logger)

	a.Processor = workers.New(a.Tasks, a.Stages.Handlers(), workers.Config{
		WorkerID:          cfg.Processor.WorkerID,
		BatchSize:         cfg.Processor.BatchSize,
		Concurrency:       cfg.Processor.Concurrency,
		PollInterval:      cfg.Processor.PollInterval,
		TaskTimeout:       cfg.Processor.TaskTimeout,
		HeartbeatInterval: cfg.Processor.HeartbeatInterval,
	}, logger)

	a.Followups = followup.NewScheduler(a.Campaigns, a.Tasks, a.Quota, cfg.Auth.OrganizationID, logger,
		followup.WithConcurrency(cfg.Followup.Concurrency))

	a.Cleaner = jobs.NewCleaner(a.Tasks, a.Audit, a.Storage, jobs.CleanupConfig{
		TaskRetentionDays: cfg.Rescue.RetentionDays,
	}, logger)

	return a, nil
}

// lockRepository selects the lead lock backend.
func (a *App) lockRepository(ctx context.Context, pool *pgxpool.Pool, logger zerolog.Logger) (leadlock.Repository, error) {
	lc := a.Config.Locks
	switch lc.Backend {
	case "", "postgres":
		return leadlock.NewPostgresRepository(pool), nil
	case "memory":
		logger.Warn().Msg("Using in-process lead locks; do not run more than one instance")
		return leadlock.NewMemoryRepository(), nil
	case "dynamodb":
		client, err := leadlock.NewDynamoClient(ctx, lc.Region, lc.Endpoint)
		if err != nil {
			return nil, err
		}
		return leadlock.NewDynamoRepository(client, lc.DynamoTable), nil
	case "nats":
		kv, nc, err := leadlock.OpenNATSBucket(ctx, lc.NATSURL, lc.Bucket)
		if err != nil {
			return nil, err
		}
		a.natsConn = nc
		return leadlock.NewNATSRepository(kv), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", lc.Backend)
	}
}

func buildProviders(cfg *config.Config, logger zerolog.Logger) (providers.Set, error) {
	rl := ratelimit.Config{
		RequestsPerSecond: float64(cfg.RateLimit.RequestsPerSecond),
		Burst:             cfg.RateLimit.Burst,
		MaxRetries:        cfg.RateLimit.MaxRetries,
		InitialBackoffMs:  cfg.RateLimit.InitialBackoffMs,
		MaxBackoffMs:      cfg.RateLimit.MaxBackoffMs,
	}
	opts := []httpclient.Option{httpclient.WithTimeout(cfg.Providers.Timeout)}
	if cfg.Providers.APIKey != "" {
		opts = append(opts, httpclient.WithHeader("Authorization", "Bearer "+cfg.Providers.APIKey))
	}
	hook := providers.NewWebhook(httpclient.NewClient(rl, opts...), providers.WebhookConfig{
		SearchURL:      cfg.Providers.SearchURL,
		EnrichURL:      cfg.Providers.EnrichURL,
		InvestigateURL: cfg.Providers.InvestigateURL,
		SendURL:        cfg.Providers.SendURL,
	})

	set := providers.Set{
		Searcher:     hook,
		Enricher:     hook,
		Investigator: hook,
		Sender:       hook,
		Generator:    providers.StaticGenerator{},
	}
	if cfg.AI.APIKey == "" {
		logger.Warn().Msg("ANTHROPIC_API_KEY not set, campaigns use the static template")
		return set, nil
	}
	gen, err := providers.NewAnthropicGenerator(providers.AnthropicConfig{
		APIKey:    cfg.AI.APIKey,
		BaseURL:   cfg.AI.BaseURL,
		Model:     cfg.AI.Model,
		MaxTokens: cfg.AI.MaxTokens,
	})
	if err != nil {
		return providers.Set{}, fmt.Errorf("content generator: %w", err)
	}
	set.Generator = gen
	return set, nil
}

// Close releases connections opened by Build. The pool is owned by the
// caller.
func (a *App) Close() {
	if a.natsConn != nil {
		a.natsConn.Close()
		a.natsConn = nil
	}
}
