package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/ticketdesk/internal/config"
	"github.com/hitoshi/ticketdesk/internal/database"
	"github.com/hitoshi/ticketdesk/internal/storage"
)

// openBackend は設定されたドライバーの永続化バックエンドを開き、疎通を確認する。
func openBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.StorageDriver {
	case config.DriverMemory:
		slog.Warn("using in-memory storage; data is lost on restart")
		return storage.NewMemoryBackend(), nil

	case config.DriverPostgres:
		db, err := database.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		backend := storage.NewPostgresBackend(db)
		if err := backend.Ping(ctx); err != nil {
			backend.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")
		return backend, nil

	case config.DriverSQLite:
		db, err := database.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		backend, err := storage.NewSQLiteBackend(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		slog.Info("sqlite database opened", slog.String("path", cfg.SQLitePath))
		return backend, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.StorageDriver)
	}
}
