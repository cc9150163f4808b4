package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/predexchange/internal/blob/s3"
	"github.com/alanyoungcy/predexchange/internal/cache/redis"
	"github.com/alanyoungcy/predexchange/internal/config"
	"github.com/alanyoungcy/predexchange/internal/domain"
	"github.com/alanyoungcy/predexchange/internal/server/handler"
	"github.com/alanyoungcy/predexchange/internal/store/memory"
	"github.com/alanyoungcy/predexchange/internal/store/postgres"
)

// EventStore is what the modes need from the event log backend.
type EventStore interface {
	domain.EventLog
	domain.EventStatter
	domain.SequenceSource
}

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	Events   EventStore
	RunStore domain.RunStore

	// Caches
	MidCache    domain.MidCache
	Sequencer   domain.Sequencer
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	SignalBus   domain.SignalBus

	// Blob storage; nil unless S3 is in use.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader

	// Checks probes every external backend for the health endpoint.
	Checks map[string]handler.HealthCheck
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

	deps := &Dependencies{Checks: make(map[string]handler.HealthCheck)}

	// --- PostgreSQL (only when a backend selects it) ---
	var pgClient *postgres.Client
	if cfg.UsesPostgres() {
		var err error
		pgClient, err = postgres.New(ctx, postgres.ClientConfig{
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
		deps.Checks["postgres"] = pgClient.Ping

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
	}

	// --- S3 blob storage (only for run_store = s3, export mode or the export API) ---
	if cfg.UsesS3() {
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
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Event log ---
	switch cfg.Storage.EventLog {
	case "postgres":
		deps.Events = postgres.NewEventLog(pgClient.Pool(), cfg.Replay.ReadBatchSize)
	default:
		logger.Warn("wire: using in-memory event log, events are lost on exit")
		deps.Events = memory.NewEventLog()
	}

	// --- Run store ---
	switch cfg.Storage.RunStore {
	case "postgres":
		deps.RunStore = postgres.NewRunStore(pgClient.Pool())
	case "s3":
		deps.RunStore = s3blob.NewRunStore(deps.BlobWriter, deps.BlobReader, cfg.S3.RunPrefix)
	default:
		deps.RunStore = memory.NewRunStore()
	}

	// --- Caches ---
	if cfg.Storage.Cache == "redis" {
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
		deps.Checks["redis"] = redisClient.Ping

		deps.MidCache = redis.NewMidCache(redisClient)
		deps.Sequencer = redis.NewSequencer(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else {
		deps.MidCache = memory.NewMidCache()
		deps.Sequencer = memory.NewSequencer()
		deps.LockManager = memory.NewLockManager()
		deps.RateLimiter = memory.NewRateLimiter()
		deps.SignalBus = memory.NewSignalBus()
	}

	return deps, cleanup, nil
}
