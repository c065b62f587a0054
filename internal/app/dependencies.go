package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cardmarket/internal/catalog"
	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
	"github.com/vladislavdragonenkov/cardmarket/internal/health"
	"github.com/vladislavdragonenkov/cardmarket/internal/metrics"
	"github.com/vladislavdragonenkov/cardmarket/internal/storage/blob"
	"github.com/vladislavdragonenkov/cardmarket/internal/storage/memory"
	"github.com/vladislavdragonenkov/cardmarket/internal/storage/pebble"
	"github.com/vladislavdragonenkov/cardmarket/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/cardmarket/internal/storage/redis"
	"github.com/vladislavdragonenkov/cardmarket/internal/version"
)

// Dependencies содержит все зависимости приложения.
type Dependencies struct {
	Catalog     domain.CatalogRepository
	Listings    domain.ListingRepository
	Orders      domain.OrderRepository
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository
	Blobs       *blob.LocalStore
	Metrics     *metrics.MarketMetrics
	Health      *health.Registry
	Logger      *log.Entry

	// cleanupExpired включает фоновую очистку ключей идемпотентности;
	// Redis удаляет их сам по TTL.
	cleanupExpired bool
	closers        []func() error
}

// NewDependencies открывает хранилище выбранного драйвера и собирает
// остальные зависимости. При ошибке уже открытые ресурсы закрываются.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (_ *Dependencies, err error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{
		Metrics:        metrics.NewMarketMetrics(),
		Health:         health.NewRegistry(version.Version()),
		Logger:         logger,
		cleanupExpired: true,
	}
	defer func() {
		if err != nil {
			_ = deps.Close()
		}
	}()

	switch cfg.StorageDriver {
	case DriverMemory:
		initMemoryStorage(deps, cfg)
	case DriverPostgres:
		if err := initPostgresStorage(ctx, deps, cfg); err != nil {
			return nil, err
		}
	case DriverPebble:
		if err := initPebbleStorage(ctx, deps, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr != "" {
		initRedisIdempotency(deps, cfg)
	}

	blobs, err := blob.NewLocalStore(cfg.BlobDir, cfg.BlobBaseURL)
	if err != nil {
		return nil, err
	}
	deps.Blobs = blobs

	logger.WithFields(log.Fields{
		"driver": cfg.StorageDriver,
		"redis":  cfg.RedisAddr != "",
		"checks": deps.Health.Names(),
	}).Info("dependencies initialized")
	return deps, nil
}

// Close освобождает ресурсы в обратном порядке открытия.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func initMemoryStorage(deps *Dependencies, cfg Config) {
	store := memory.NewStore()
	if cfg.SeedCatalog {
		store.PutCatalog(catalog.Seed()...)
	}
	deps.Catalog = store.Catalog()
	deps.Listings = store.Listings()
	deps.Orders = store.Orders()
	deps.Outbox = memory.NewOutboxRepository()
	deps.Timeline = memory.NewTimelineRepository()
	deps.Idempotency = memory.NewIdempotencyRepository()
}

func initPostgresStorage(ctx context.Context, deps *Dependencies, cfg Config) error {
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	deps.closers = append(deps.closers, store.Close)

	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	} else {
		state, err := store.MigrationState(ctx)
		if err != nil {
			return fmt.Errorf("check migrations: %w", err)
		}
		if len(state.Pending) > 0 {
			return fmt.Errorf("postgres schema is outdated, pending migrations: %v", state.Pending)
		}
	}

	catalogRepo := postgres.NewCatalogRepository(store)
	if cfg.SeedCatalog {
		if err := catalogRepo.Upsert(ctx, catalog.Seed()...); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
	}

	deps.Catalog = catalogRepo
	deps.Listings = postgres.NewListingRepository(store)
	deps.Orders = postgres.NewOrderRepository(store)
	deps.Outbox = postgres.NewOutboxRepository(store)
	deps.Timeline = postgres.NewTimelineRepository(store)
	deps.Idempotency = postgres.NewIdempotencyRepository(store)
	deps.Health.Register("postgres", health.NewDependency("postgres", true, store.Ping))

	// Статистика пула: market_postgres_open_connections, wait_count и т.д.
	poolStats := collectors.NewDBStatsCollector(store.DB(), "market_postgres")
	if err := prometheus.Register(poolStats); err != nil {
		deps.Logger.WithError(err).Warn("postgres pool metrics are not registered")
	} else {
		deps.closers = append(deps.closers, func() error {
			prometheus.Unregister(poolStats)
			return nil
		})
	}
	return nil
}

// initPebbleStorage хранит каталог, объявления, заказы и таймлайн в pebble.
// Outbox и ключи идемпотентности остаются в памяти процесса.
func initPebbleStorage(ctx context.Context, deps *Dependencies, cfg Config) error {
	store, err := pebble.Open(cfg.PebbleDir)
	if err != nil {
		return fmt.Errorf("open pebble: %w", err)
	}
	deps.closers = append(deps.closers, store.Close)

	catalogRepo := store.Catalog()
	if cfg.SeedCatalog {
		if err := catalogRepo.Upsert(ctx, catalog.Seed()...); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
	}

	deps.Catalog = catalogRepo
	deps.Listings = store.Listings()
	deps.Orders = store.Orders()
	deps.Timeline = store.Timeline()
	deps.Outbox = memory.NewOutboxRepository()
	deps.Idempotency = memory.NewIdempotencyRepository()
	return nil
}

func initRedisIdempotency(deps *Dependencies, cfg Config) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	deps.closers = append(deps.closers, client.Close)

	repo := redisstore.NewIdempotencyRepository(client)
	deps.Idempotency = repo
	deps.cleanupExpired = false
	deps.Health.Register("redis", health.NewDependency("redis", false, repo.Ping))
}
