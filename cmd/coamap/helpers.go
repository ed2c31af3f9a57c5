package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/valuebench/coamap/internal/common"
	"github.com/valuebench/coamap/internal/engine"
	"github.com/valuebench/coamap/internal/model"
	"github.com/valuebench/coamap/internal/reason"
	"github.com/valuebench/coamap/internal/scorer"
	"github.com/valuebench/coamap/internal/service"
	"github.com/valuebench/coamap/internal/storage"
)

func databasePath() (string, error) {
	if dbPath := viper.GetString("database.path"); dbPath != "" {
		return dbPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "coamap", "coamap.db"), nil
}

func openStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath, err := databasePath()
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func thresholdsFromConfig() model.Thresholds {
	t := model.DefaultThresholds()
	if high := viper.GetFloat64("thresholds.high"); high > 0 {
		t.High = high
	}
	if medium := viper.GetFloat64("thresholds.medium"); medium > 0 {
		t.Medium = medium
	}
	return t
}

// buildEngine wires the collaborator, scorer, and engine from viper config.
// The caller owns both returned closers.
func buildEngine(ctx context.Context, store *storage.SQLiteStorage) (*engine.Engine, service.Collaborator, error) {
	logger := slog.Default()

	collaborator, err := reason.New(ctx, reason.Config{
		Provider:  viper.GetString("reason.provider"),
		APIKey:    viper.GetString("reason.api_key"),
		Model:     viper.GetString("reason.model"),
		RateLimit: viper.GetInt("reason.rate_limit"),
	}, logger)
	if err != nil {
		return nil, nil, common.NewUserError(
			"failed to create reasoning collaborator (set reason.api_key or COAMAP_REASON_API_KEY)", err)
	}

	thresholds := thresholdsFromConfig()

	scorerCfg := scorer.DefaultConfig()
	scorerCfg.Thresholds = thresholds
	if topK := viper.GetInt("scorer.top_k"); topK > 0 {
		scorerCfg.TopK = topK
	}
	if ttl := viper.GetDuration("scorer.cache_ttl"); ttl > 0 {
		scorerCfg.CacheTTL = ttl
	}

	retry := service.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}

	e, err := engine.New(store, scorer.New(collaborator, scorerCfg, logger), thresholds, retry, logger)
	if err != nil {
		_ = collaborator.Close()
		return nil, nil, err
	}
	return e, collaborator, nil
}
