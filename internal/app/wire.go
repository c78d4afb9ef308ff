package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/tradewatch/sentinel/internal/blob/s3"
	"github.com/tradewatch/sentinel/internal/bus"
	"github.com/tradewatch/sentinel/internal/cache/memory"
	"github.com/tradewatch/sentinel/internal/cache/redis"
	"github.com/tradewatch/sentinel/internal/config"
	"github.com/tradewatch/sentinel/internal/domain"
	"github.com/tradewatch/sentinel/internal/server/handler"
	"github.com/tradewatch/sentinel/internal/store/postgres"
)

// Dependencies bundles every infrastructure-level dependency the application
// modes need. Optional backends (Postgres, Redis, S3) leave their fields nil
// when disabled; the in-process bus and price cache always stand in for a
// disabled Redis.
type Dependencies struct {
	// Stores (nil when Postgres is disabled)
	AlertStore        domain.AlertStore
	NotificationStore domain.NotificationStore
	AuditStore        domain.AuditStore

	// Caches and messaging
	PriceCache  domain.PriceCache
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter // nil when Redis is disabled
	LockManager domain.LockManager // nil when Redis is disabled

	// Blob storage (nil when S3 is disabled)
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// HealthChecks are per-dependency liveness probes for /api/health.
	HealthChecks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthChecks: make(map[string]handler.Check),
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.AlertStore = postgres.NewAlertStore(pool)
		deps.NotificationStore = postgres.NewNotificationStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = func(ctx context.Context) error {
			return pool.Ping(ctx)
		}
	}

	// --- Redis (or in-process fallbacks) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		logger.InfoContext(ctx, "redis disabled, using in-process bus and price cache")
		deps.PriceCache = memory.NewPriceCache()
		deps.SignalBus = bus.NewMemory()
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.HealthChecks["s3"] = s3Client.Health

		// Archival needs durable stores to read from and record against.
		if deps.AlertStore != nil && deps.AuditStore != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.AlertStore, deps.AuditStore)
		}
	}

	return deps, cleanup, nil
}
