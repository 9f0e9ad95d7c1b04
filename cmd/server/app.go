package main

import (
	"context"
	"fmt"
	"time"

	"llm_fanout/internal/auth"
	"llm_fanout/internal/billing"
	"llm_fanout/internal/config"
	"llm_fanout/internal/dispatch"
	"llm_fanout/internal/httpapi"
	"llm_fanout/internal/logging"
	"llm_fanout/internal/models"
	"llm_fanout/internal/payments"
	"llm_fanout/internal/providers"
	"llm_fanout/internal/queue"
	"llm_fanout/internal/storage"
	"llm_fanout/internal/vault"
)

// app holds the long-lived components that need an orderly shutdown
type app struct {
	db       *storage.DB
	redis    *storage.RedisClient
	registry *providers.Registry
	shipper  *logging.Shipper
	handler  *httpapi.Handler
	tokens   *auth.Validator
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := storage.NewDB(storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a := &app{db: db}

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	redisCfg := storage.RedisConfig{
		Address:      cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	}

	needRedis := cfg.Billing.Backend == config.BalanceBackendRedis ||
		(cfg.LoggingSink.Enabled && cfg.LoggingSink.UseRedis)
	if needRedis {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
		a.redis, err = storage.NewRedisClient(pingCtx, redisCfg)
		cancel()
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
	}

	encryption, err := storage.NewEncryption(cfg.Encryption.Key)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	settings := db.NewSettingsRepository()
	credentials := vault.New(settings, encryption, map[models.ProviderType]string{
		models.ProviderOpenAI:    cfg.Provider.OpenAIAPIKey,
		models.ProviderAnthropic: cfg.Provider.AnthropicAPIKey,
		models.ProviderGemini:    cfg.Provider.GeminiAPIKey,
	})

	a.registry = providers.NewDefaultRegistry(providers.RegistryConfig{
		OpenAI: providers.OpenAIConfig{
			BaseURL: cfg.Provider.OpenAIBaseURL,
			Timeout: cfg.Provider.RequestTimeout,
		},
		Anthropic: providers.AnthropicConfig{
			BaseURL:   cfg.Provider.AnthropicBaseURL,
			MaxTokens: cfg.Provider.AnthropicMaxTokens,
			Timeout:   cfg.Provider.RequestTimeout,
		},
		Gemini: providers.GeminiConfig{
			MaxOutputTokens: int32(cfg.Provider.GeminiMaxOutputTokens),
		},
	})

	var balances billing.BalanceStore
	switch cfg.Billing.Backend {
	case config.BalanceBackendPostgres:
		balances = db.NewBalanceRepository(cfg.Billing.FreeTokenAllowance)
	default:
		balances = billing.NewRedisBalanceStore(a.redis.Client(), cfg.Billing.FreeTokenAllowance)
	}
	usageLog := db.NewUsageLogRepository()
	interactions := db.NewInteractionRepository()
	ledger := billing.NewLedger(balances, usageLog)

	sink, err := a.activitySink(ctx, cfg.LoggingSink)
	if err != nil {
		a.close()
		return nil, err
	}

	coordinator := dispatch.NewCoordinator(
		credentials,
		a.registry,
		ledger,
		interactions,
		sink,
		dispatch.Config{
			ProviderTimeout:     cfg.Provider.RequestTimeout,
			OutputReserve:       cfg.Billing.OutputReserve,
			DefaultSummaryModel: cfg.Provider.DefaultSummaryModel,
		},
	)

	deps := httpapi.Dependencies{
		Dispatcher:  coordinator,
		Credentials: credentials,
		Preferences: settings,
		Balances:    ledger,
		History:     interactions,
		Usage:       usageLog,
	}
	if cfg.Stripe.Enabled() {
		deps.Checkout = payments.NewCheckoutService(
			payments.NewStripeSessions(cfg.Stripe.SecretKey),
			cfg.Stripe.Prices,
			payments.CheckoutConfig{SuccessURL: cfg.Stripe.SuccessURL, CancelURL: cfg.Stripe.CancelURL},
		)
		deps.Webhooks = payments.NewReconciler(ledger, cfg.Stripe.WebhookSecret, cfg.Stripe.Prices)
	} else {
		logger.Warn("Stripe is not configured, payment routes are disabled")
	}
	a.handler = httpapi.NewHandler(deps)

	a.tokens, err = auth.NewValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

// activitySink wires the per-call activity log: a queue drained to S3, or a
// no-op sink when shipping is disabled.
func (a *app) activitySink(ctx context.Context, cfg config.LoggingSinkConfig) (logging.Sink, error) {
	if !cfg.Enabled {
		return logging.NewNoopSink(), nil
	}

	writer, err := logging.NewS3Writer(ctx, logging.S3Config{
		Bucket:   cfg.S3Bucket,
		Region:   cfg.S3Region,
		Prefix:   cfg.S3Prefix,
		Instance: cfg.PodName,
		Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 writer: %w", err)
	}

	qcfg := queue.DefaultConfig("activity")
	qcfg.BatchSize = cfg.BatchSize
	qcfg.BatchTimeout = cfg.FlushInterval
	qcfg.MaxRetries = cfg.MaxRetries

	var (
		q   queue.Queue[logging.Record]
		dlq queue.DeadLetterQueue[logging.Record]
	)
	if cfg.UseRedis && a.redis != nil {
		q = queue.NewRedisQueue[logging.Record](a.redis.Client(), qcfg)
		dlq = queue.NewRedisDeadLetterQueue[logging.Record](a.redis.Client(), qcfg)
	} else {
		q = queue.NewMemoryQueue[logging.Record](qcfg)
		dlq = queue.NewMemoryDeadLetterQueue[logging.Record]()
	}

	a.shipper = logging.NewShipper(q, dlq, writer, qcfg)

	// Records parked by a previous run get one more attempt.
	if replayed, err := a.shipper.Replay(ctx); err != nil {
		logger.Warn("Failed to requeue parked activity records", "requeued", replayed, "error", err)
	} else if replayed > 0 {
		logger.Info("Requeued parked activity records", "count", replayed)
	}
	pending, _ := a.shipper.Pending(ctx)

	a.shipper.Start(context.WithoutCancel(ctx))
	logger.Info("Activity log shipping enabled",
		"bucket", cfg.S3Bucket, "redis_queue", cfg.UseRedis && a.redis != nil, "pending", pending)

	return logging.NewQueueSink(q), nil
}

// close releases resources in reverse order of creation
func (a *app) close() {
	if a.shipper != nil {
		if err := a.shipper.Stop(); err != nil {
			logger.Warn("Failed to stop activity shipper", "error", err)
		}
	}
	if a.registry != nil {
		_ = a.registry.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// health checks the backing stores
func (a *app) health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.db.Health(ctx); err != nil {
		return err
	}
	if a.redis != nil {
		return a.redis.Health(ctx)
	}
	return nil
}
