package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/cors"

	"github.com/CPerezz/ethresearch-ai-sub000/internal/auth"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/config"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/dashboard"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/db"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/escrow"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/execution"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/handlers"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/ledger"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/metrics"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/middleware"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/notify"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/repository"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/router"
	"github.com/CPerezz/ethresearch-ai-sub000/internal/services"
)

type app struct {
	pool       *pgxpool.Pool
	chains     *escrow.Registry
	redis      *notify.RedisPublisher
	river      *river.Client[pgx.Tx]
	reconciler *services.Reconciler
	handler    http.Handler
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.chains.Close()
	a.pool.Close()
}

func redisOptions(cfg config.RedisConfig) (*redis.Options, error) {
	if strings.HasPrefix(cfg.Addr, "redis://") || strings.HasPrefix(cfg.Addr, "rediss://") {
		return redis.ParseURL(cfg.Addr)
	}
	return &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}, nil
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	pool, err := db.Open(ctx, cfg.DB.URL)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	logger.Info("Connected to PostgreSQL database successfully!")

	chains, err := escrow.Dial(ctx, cfg.Escrow, escrow.Options{
		ReadTimeout: cfg.Escrow.ReadTimeout,
		CacheTTL:    cfg.Escrow.CacheTTL,
		MaxRetries:  cfg.Escrow.MaxRetries,
		Logger:      logger,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("escrow: %w", err)
	}
	logger.Info("Escrow chains configured", "count", len(cfg.Escrow.Chains))
	a := &app{pool: pool, chains: chains}

	// Event fan-out
	webhook := notify.WebhookSender{HTTP: &http.Client{Timeout: 10 * time.Second}}
	bus := notify.NewBus()
	if cfg.Redis.Addr != "" {
		opt, err := redisOptions(cfg.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = notify.NewRedisPublisher(opt, cfg.Notify.RedisChannel)
		bus.Subscribe(a.redis)
	}
	if cfg.Notify.EventsWebhookURL != "" {
		bus.Subscribe(notify.WebhookNotifier{URL: cfg.Notify.EventsWebhookURL, Sender: webhook})
	}

	// Ledger store
	bountyRepo := repository.NewBountyRepo(pool)
	txRepo := repository.NewBountyTxRepo(pool)
	postRepo := repository.NewPostRepo(pool)
	userRepo := repository.NewUserRepo(pool)
	apiKeyRepo := repository.NewAPIKeyRepo(pool)
	notificationRepo := repository.NewNotificationRepo(pool)
	reputation := ledger.NewService(ledger.NewRepository(pool))

	// Reward jobs: insert func is set after River client is created (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn services.InsertRewardTxFunc
	insertReward := func(ctx context.Context, tx pgx.Tx, bountyID int64) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, bountyID)
	}

	funding := services.NewFundingRecorder(bountyRepo, txRepo, chains, logger)
	funding.Events = bus
	payouts := services.NewPayoutRecorder(pool, bountyRepo, txRepo, chains, logger)
	payouts.Events = bus
	winners := services.NewWinnerSelector(pool, bountyRepo, postRepo, insertReward, logger)
	rewards := services.NewRewardDistributor(bountyRepo, postRepo, reputation, notificationRepo, bus, logger)
	reconciler := services.NewReconciler(bountyRepo, chains, notify.WebhookAdvisor{URL: cfg.Notify.AdvisoryWebhookURL, Sender: webhook},
		cfg.Cron.Lookahead, cfg.Cron.Concurrency, logger)
	reconciler.Events = bus
	confirmer := services.NewConfirmer(txRepo, bountyRepo, chains, funding, logger)
	bounties := services.NewBountyService(bountyRepo, postRepo, txRepo, userRepo, chains, services.RegistryCalls{Registry: chains}, logger)
	a.reconciler = reconciler

	workers := river.NewWorkers()
	execution.Register(workers, rewards, reconciler, confirmer, logger)
	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.Jobs.MaxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: execution.PeriodicJobs(cfg.Cron.ExpiryInterval, cfg.Cron.ConfirmInterval),
		Logger:       logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("river client: %w", err)
	}
	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, bountyID int64) error {
		_, err := riverClient.InsertTx(ctx, tx, execution.RewardJobArgs{BountyID: bountyID}, nil)
		return err
	}
	insertMu.Unlock()
	a.river = riverClient

	validator, err := services.NewValidator()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("schemas: %w", err)
	}

	authSvc := auth.NewService(userRepo, apiKeyRepo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	mux := router.New(router.Deps{
		Auth: auth.NewHandler(authSvc, logger),
		Bounty: &handlers.BountyHandler{
			Bounties:  bounties,
			Funding:   funding,
			Winners:   winners,
			Payouts:   payouts,
			Validator: validator,
			Logger:    logger,
		},
		Account:      dashboard.NewHandler(userRepo, notificationRepo, apiKeyRepo, logger),
		Cron:         &handlers.CronHandler{Reconciler: reconciler, Logger: logger},
		Metrics:      metrics.Handler(),
		Authenticate: middleware.Authenticate(apiKeyRepo, authSvc, userRepo),
		CronSecret:   middleware.CronSecret(cfg.Cron.Secret),
	})

	a.handler = cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", middleware.CronSecretHeader},
		AllowCredentials: true,
	}).Handler(mux)
	return a, nil
}
