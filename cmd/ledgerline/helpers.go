package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/ledgerline/categorizer/internal/config"
	"github.com/ledgerline/categorizer/internal/engine"
	"github.com/ledgerline/categorizer/internal/storage"
)

// initStorage opens the expense database and runs pending migrations.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = config.DefaultDatabasePath
	}
	dbPath = config.ExpandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initEngine builds a fully wired engine, the storage it runs on, and a
// cleanup function that closes the underlying database.
func initEngine(ctx context.Context) (*engine.Engine, *storage.SQLiteStorage, func(), error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Warn("failed to close database", "error", closeErr)
		}
	}

	cache := storage.NewPatternCache(store, storage.DefaultCacheTTL)
	eng := engine.NewWithOptions(store, cache, engineOptions())
	if v := viper.GetFloat64("engine.write_back_rate"); v > 0 {
		eng.SetWriteBackLimit(rate.Limit(v), 1)
	}
	return eng, store, cleanup, nil
}

// engineOptions merges configured overrides over engine defaults.
func engineOptions() engine.Options {
	opts := engine.DefaultOptions()
	if v := viper.GetFloat64("engine.min_confidence"); v > 0 {
		opts.MinConfidence = v
	}
	if v := viper.GetFloat64("engine.auto_threshold"); v > 0 {
		opts.AutoCategorizeThreshold = v
	}
	if v := viper.GetInt("engine.timeout_ms"); v > 0 {
		opts.Timeout = time.Duration(v) * time.Millisecond
	}
	if v := viper.GetInt("engine.max_workers"); v > 0 {
		opts.MaxWorkers = v
	}
	return opts
}
