package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	httpAdapter "github.com/iho/splitledger/internal/adapter/http"
	"github.com/iho/splitledger/internal/adapter/http/handler"
	"github.com/iho/splitledger/internal/adapter/http/middleware"
	postgresRepo "github.com/iho/splitledger/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/splitledger/internal/adapter/repository/redis"
	sqliteRepo "github.com/iho/splitledger/internal/adapter/repository/sqlite"
	"github.com/iho/splitledger/internal/infrastructure/auth"
	"github.com/iho/splitledger/internal/infrastructure/config"
	"github.com/iho/splitledger/internal/infrastructure/eventpublisher"
	"github.com/iho/splitledger/internal/infrastructure/metrics"
	"github.com/iho/splitledger/internal/infrastructure/postgres"
	"github.com/iho/splitledger/internal/infrastructure/redis"
	"github.com/iho/splitledger/internal/infrastructure/retry"
	"github.com/iho/splitledger/internal/infrastructure/sqlite"
	"github.com/iho/splitledger/internal/usecase"
)

// stores is the persistence layer of one ledger backend.
type stores struct {
	txManager usecase.TransactionManager
	ledger    usecase.LedgerStore
	users     usecase.UserRepository
	groups    usecase.GroupRepository
	outbox    usecase.OutboxRepository
	ping      handler.Check
	close     func()
}

// openStores connects to the configured backend and applies migrations.
func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.DatabaseTimeout)
	defer cancel()

	switch cfg.Backend {
	case config.BackendSQLite:
		db, err := sqlite.Open(connectCtx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite ledger")

		return &stores{
			txManager: sqliteRepo.NewTxManager(db),
			ledger:    sqliteRepo.NewLedgerStore(db, cfg.ReadPageSize),
			users:     sqliteRepo.NewUserRepository(db),
			groups:    sqliteRepo.NewGroupRepository(db),
			outbox:    sqliteRepo.NewOutboxRepository(db),
			ping:      db.PingContext,
			close:     func() { db.Close() },
		}, nil

	default:
		if err := postgres.RunMigrations(cfg.DatabaseURL, log); err != nil {
			return nil, err
		}

		pool, err := postgres.NewPool(connectCtx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		log.Info().Msg("connected to postgres")

		return &stores{
			txManager: postgresRepo.NewTxManager(pool),
			ledger:    postgresRepo.NewLedgerStore(pool, cfg.ReadPageSize),
			users:     postgresRepo.NewUserRepository(pool),
			groups:    postgresRepo.NewGroupRepository(pool),
			outbox:    postgresRepo.NewOutboxRepository(pool),
			ping:      pool.Ping,
			close:     pool.Close,
		}, nil
	}
}

// newPublisher returns the sink for outbox events, or nil when events are
// disabled. The returned close func is never nil.
func newPublisher(cfg *config.Config, log zerolog.Logger) (eventpublisher.Publisher, func() error, error) {
	noop := func() error { return nil }

	switch cfg.EventPublisher {
	case config.PublisherNone:
		return nil, noop, nil
	case config.PublisherKafka:
		p := eventpublisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		return p, p.Close, nil
	case config.PublisherAMQP:
		p, err := eventpublisher.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, noop, err
		}
		return p, p.Close, nil
	default:
		return eventpublisher.NewLogPublisher(log), noop, nil
	}
}

// app holds the wired services of a running server.
type app struct {
	log      zerolog.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	stores      *stores
	redisClient *goredis.Client
	idempotency usecase.IdempotencyStore
	events      *eventpublisher.EventPublisher
	closeSink   func() error

	ledger         *usecase.LedgerUseCase
	directory      *usecase.DirectoryUseCase
	balances       *usecase.BalanceUseCase
	reconciliation *usecase.ReconciliationUseCase
	spending       *usecase.SpendingUseCase
	verifier       middleware.TokenVerifier
}

// newApp connects every dependency named by cfg and builds the use cases.
func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	a := &app{
		log:       log,
		metrics:   metrics.NewWithRegisterer(reg),
		gatherer:  reg,
		closeSink: func() error { return nil },
	}

	a.stores, err = openStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	var snapshots usecase.SnapshotStore
	if cfg.RedisEnabled {
		a.redisClient, err = redis.NewClient(ctx, cfg.RedisURL, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		snapshots = redisRepo.NewSnapshotStore(a.redisClient)
		a.idempotency = redisRepo.NewIdempotencyStore(a.redisClient)
	}

	sink, closeSink, err := newPublisher(cfg, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create event publisher: %w", err)
	}
	a.closeSink = closeSink

	outbox := a.stores.outbox
	if sink == nil {
		outbox = eventpublisher.NewNullOutboxRepository()
	} else {
		a.events = eventpublisher.NewEventPublisher(eventpublisher.Config{
			OutboxRepo: outbox,
			Publisher:  sink,
			Metrics:    a.metrics,
			Logger:     log,
			Interval:   cfg.OutboxPollInterval,
			Retention:  cfg.OutboxRetention,
		})
	}

	retrier := retry.New(
		retry.WithMaxRetries(cfg.AppendMaxRetries),
		retry.WithLogger(log),
	)
	idGen := postgresRepo.NewULIDGenerator()

	a.balances = usecase.NewBalanceUseCase(a.stores.ledger, a.stores.users, a.stores.groups, snapshots, a.metrics, log)
	a.ledger = usecase.NewLedgerUseCase(
		a.stores.txManager, a.stores.ledger, a.stores.users, a.stores.groups,
		outbox, retrier, idGen, a.metrics, log,
	)
	a.directory = usecase.NewDirectoryUseCase(a.stores.txManager, a.stores.users, a.stores.groups, a.balances, idGen, a.metrics, log)
	a.reconciliation = usecase.NewReconciliationUseCase(a.stores.ledger, a.balances, cfg.ReplayShards, a.metrics, log)
	a.spending = usecase.NewSpendingUseCase(a.stores.ledger, a.stores.users, loc)

	if cfg.AuthEnabled {
		a.verifier = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
		log.Info().Msg("jwt authentication enabled")
	}

	return a, nil
}

// healthChecks names the dependencies /ready pings.
func (a *app) healthChecks() map[string]handler.Check {
	checks := map[string]handler.Check{"database": a.stores.ping}
	if a.redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.redisClient.Ping(ctx).Err()
		}
	}
	return checks
}

func (a *app) routerConfig(cfg *config.Config, rateLimiter *middleware.RateLimiter) httpAdapter.RouterConfig {
	digits := cfg.MinorUnitDigits

	return httpAdapter.RouterConfig{
		LedgerHandler:         handler.NewLedgerHandler(a.ledger, digits, a.log),
		DirectoryHandler:      handler.NewDirectoryHandler(a.directory, digits),
		BalanceHandler:        handler.NewBalanceHandler(a.balances, digits),
		SpendingHandler:       handler.NewSpendingHandler(a.spending, digits),
		ReconciliationHandler: handler.NewReconciliationHandler(a.reconciliation),
		HealthHandler:         handler.NewHealthHandler(a.healthChecks()),
		IdempotencyStore:      a.idempotency,
		IdempotencyTTL:        cfg.IdempotencyTTL,
		TokenVerifier:         a.verifier,
		RateLimiter:           rateLimiter,
		Metrics:               a.metrics,
		Gatherer:              a.gatherer,
		Logger:                a.log,
	}
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	if err := a.closeSink(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close event publisher")
	}
	if a.redisClient != nil {
		a.redisClient.Close()
	}
	if a.stores != nil {
		a.stores.close()
	}
}
