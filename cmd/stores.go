package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/compresr/session-gateway/internal/config"
	"github.com/compresr/session-gateway/internal/history"
	"github.com/compresr/session-gateway/internal/quota"
	"github.com/compresr/session-gateway/internal/store"
)

// openCredentialStore opens the credential store for the configured driver.
// With driver=postgres credentials stay in SQLite when sqlite_path is set,
// otherwise in memory.
func openCredentialStore(ctx context.Context, cfg *config.Config) (quota.Store, error) {
	path := cfg.Storage.SQLitePath
	if cfg.Storage.Driver == config.DriverMemory || path == "" {
		return quota.NewMemoryStore(), nil
	}
	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	s, err := quota.NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// openHistoryStore opens the turn recorder for the configured driver.
func openHistoryStore(ctx context.Context, cfg *config.Config) (history.Store, error) {
	count := history.NewTiktokenCounter(cfg.Storage.TokenEncoding)

	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		db, err := store.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		r, err := history.NewSQLiteRecorder(ctx, db, count)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return r, nil
	case config.DriverPostgres:
		pool, err := store.OpenPostgres(ctx, cfg.Storage.PostgresURL)
		if err != nil {
			return nil, err
		}
		r, err := history.NewPostgresRecorder(ctx, pool, count)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return r, nil
	case config.DriverMemory:
		return history.NewMemoryRecorder(count), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}

// openStores opens both stores, closing the first if the second fails.
func openStores(ctx context.Context, cfg *config.Config) (quota.Store, history.Store, error) {
	creds, err := openCredentialStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open credential store: %w", err)
	}
	hist, err := openHistoryStore(ctx, cfg)
	if err != nil {
		_ = creds.Close()
		return nil, nil, fmt.Errorf("open history store: %w", err)
	}
	log.Info().
		Str("driver", cfg.Storage.Driver).
		Str("sqlite_path", cfg.Storage.SQLitePath).
		Msg("stores opened")
	return creds, hist, nil
}
