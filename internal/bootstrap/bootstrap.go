/**
 * @description
 * Shared process wiring for the wallet binaries: database pool, optional Redis and
 * RabbitMQ connections, the Paystack client, and the services built on top of them.
 *
 * @notes
 * - Redis and RabbitMQ are optional. Without Redis, run locks and the bank list cache
 *   are in-process; without RabbitMQ, events go to the no-op publisher.
 * - Close releases everything Open acquired, in reverse order.
 */

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/config"
	"github.com/transfa/wallet-service/internal/logging"
	"github.com/transfa/wallet-service/internal/settlement"
	"github.com/transfa/wallet-service/internal/store"
	"github.com/transfa/wallet-service/internal/webhook"
	"github.com/transfa/wallet-service/pkg/paystackclient"
	"github.com/transfa/wallet-service/pkg/rabbitmq"
)

// Runtime holds the connections and services of one process.
type Runtime struct {
	Config     config.Config
	Logger     *slog.Logger
	DB         *pgxpool.Pool
	Redis      *redis.Client
	Publisher  rabbitmq.Publisher
	Repository store.Repository
	Service    *app.Service
	Schedules  *settlement.Scheduler
	Webhooks   *webhook.Processor

	closers []func()
}

// LoadConfig loads configuration from the working directory and builds the process logger.
func LoadConfig(service string) (config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.New(service, cfg.LogLevel), nil
}

// Open connects to the configured backends and wires the services.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}

	db, err := OpenDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	rt.DB = db
	rt.closers = append(rt.closers, db.Close)
	logger.Info("database connected", "component", "bootstrap")

	rt.Redis = openRedis(ctx, cfg.RedisURL, logger)
	if rt.Redis != nil {
		rt.closers = append(rt.closers, func() { _ = rt.Redis.Close() })
	}

	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		logger.Warn("rabbitmq url missing; using fallback publisher", "component", "bootstrap", "env", "RABBITMQ_URL")
		rt.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	} else if producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, logger); err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "component", "bootstrap", "error", err)
		rt.Publisher = &rabbitmq.EventProducerFallback{Logger: logger}
	} else {
		rt.Publisher = producer
		rt.closers = append(rt.closers, producer.Close)
		logger.Info("rabbitmq producer connected", "component", "bootstrap")
	}

	rt.Repository = store.NewPostgresRepository(db)
	if err := rt.wire(cfg, logger); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) wire(cfg config.Config, logger *slog.Logger) error {
	opts, err := app.OptionsFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("service options: %w", err)
	}
	rules, err := app.FeeRulesFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("fee rules: %w", err)
	}
	fees, err := app.NewFeeCalculator(cfg.FeesEnabled, rules)
	if err != nil {
		return fmt.Errorf("fee calculator: %w", err)
	}

	client := paystackclient.NewClient(cfg.PaystackAPIURL, cfg.PaystackSecretKey, cfg.PaystackTimeout())
	client.Logger = logger
	gateway := app.NewInstrumentedGateway(client)

	var (
		banks  app.BankCache
		locker settlement.RunLocker
	)
	if rt.Redis != nil {
		banks = app.NewRedisBankCache(rt.Redis, "")
		locker = settlement.NewRedisRunLocker(rt.Redis, "")
	} else {
		banks = app.NewMemoryBankCache()
		locker = settlement.NewMemoryRunLocker()
	}

	rt.Service = app.NewService(rt.Repository, gateway, rt.Publisher, fees, banks, opts, logger)
	rt.Schedules = settlement.NewScheduler(rt.Repository, rt.Service, locker, settlement.Options{
		LockTTL:   time.Duration(cfg.SettlementLockTTLSeconds) * time.Second,
		BatchSize: cfg.SweepBatchSize,
	}, logger)
	rt.Webhooks = webhook.NewProcessor(rt.Repository, rt.Service, rt.Publisher, webhook.Options{
		Secret:      cfg.PaystackWebhookSecret,
		Exchange:    cfg.EventsExchange,
		MaxAttempts: cfg.WebhookMaxAttempts,
		RetryDelay:  time.Duration(cfg.WebhookRetryDelaySeconds) * time.Second,
		MaxBackoff:  time.Duration(cfg.WebhookRetryMaxBackoffSeconds) * time.Second,
		BatchSize:   cfg.SweepBatchSize,
	}, logger)
	return nil
}

// Close releases the runtime's connections.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

// OpenDatabase creates the Postgres pool with the service pool settings.
func OpenDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// openRedis returns nil when Redis is not configured or not reachable.
func openRedis(ctx context.Context, redisURL string, logger *slog.Logger) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		logger.Warn("redis url missing; using in-process locks and bank cache", "component", "bootstrap", "env", "REDIS_URL")
		return nil
	}
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; using in-process locks and bank cache", "component", "bootstrap", "error", err)
		return nil
	}
	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; using in-process locks and bank cache", "component", "bootstrap", "error", err)
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", "component", "bootstrap")
	return client
}
