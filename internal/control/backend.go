package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/streamcollector/internal/core/config"
	redisclient "github.com/vietddude/streamcollector/internal/infra/redis"
	"github.com/vietddude/streamcollector/internal/infra/storage"
	"github.com/vietddude/streamcollector/internal/infra/storage/memory"
	"github.com/vietddude/streamcollector/internal/infra/storage/postgres"
	"github.com/vietddude/streamcollector/internal/ingest/health"
)

// Backend is an opened control store together with its connection.
type Backend struct {
	Store  storage.ControlStore
	Pinger health.Pinger // nil for the in-memory store

	db          *postgres.DB
	redisClient *redisclient.Client
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// OpenBackend connects the configured control store. The postgres backend
// runs its migrations before returning.
func OpenBackend(ctx context.Context, cfg *config.AppConfig) (*Backend, error) {
	switch cfg.ControlStore.Backend {
	case config.BackendRedis:
		client, err := redisclient.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		slog.Info("Using Redis control store")
		return &Backend{
			Store:       redisclient.NewControlStore(client),
			Pinger:      client,
			redisClient: client,
		}, nil

	case config.BackendPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		slog.Info("Using PostgreSQL control store")
		return &Backend{
			Store:  postgres.NewControlStore(db),
			Pinger: pingFunc(db.Health),
			db:     db,
		}, nil

	default:
		slog.Info("Using Memory control store")
		return &Backend{Store: memory.NewControlStore()}, nil
	}
}

// StartMetricsCollector starts the connection pool collector when the
// backend has one.
func (b *Backend) StartMetricsCollector(ctx context.Context) {
	if b.db != nil {
		b.db.StartMetricsCollector(ctx)
	}
}

// Close releases the backend connection.
func (b *Backend) Close() error {
	switch {
	case b.redisClient != nil:
		return b.redisClient.Close()
	case b.db != nil:
		return b.db.Close()
	}
	return nil
}
