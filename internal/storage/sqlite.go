package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/valuebench/coamap/internal/model"
	"github.com/valuebench/coamap/internal/service"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var (
	_ service.Storage     = (*SQLiteStorage)(nil)
	_ service.Transaction = (*sqliteTransaction)(nil)
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// queryable abstracts *sql.DB and *sql.Tx for shared query helpers.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTransaction) SaveAccounts(ctx context.Context, accounts []model.CanonicalAccount) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAccounts(accounts); err != nil {
		return err
	}
	return t.storage.saveAccountsTx(ctx, t.tx, accounts)
}

func (t *sqliteTransaction) GetAccounts(ctx context.Context) ([]model.CanonicalAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getAccountsTx(ctx, t.tx)
}

func (t *sqliteTransaction) GetAccountByID(ctx context.Context, id string) (*model.CanonicalAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getAccountByIDTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) SaveLineItems(ctx context.Context, engagementID string, items []model.SourceLineItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(engagementID, "engagementID"); err != nil {
		return err
	}
	if err := validateLineItems(items); err != nil {
		return err
	}
	return t.storage.saveLineItemsTx(ctx, t.tx, engagementID, items)
}

func (t *sqliteTransaction) GetLineItems(ctx context.Context, engagementID string) ([]model.SourceLineItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(engagementID, "engagementID"); err != nil {
		return nil, err
	}
	return t.storage.getLineItemsTx(ctx, t.tx, engagementID)
}

func (t *sqliteTransaction) GetMapping(ctx context.Context, engagementID, sourceID string) (*model.MappingRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.getMappingTx(ctx, t.tx, engagementID, sourceID)
}

func (t *sqliteTransaction) UpsertMapping(ctx context.Context, engagementID string, record *model.MappingRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRecord(record); err != nil {
		return err
	}
	return t.storage.upsertMappingTx(ctx, t.tx, engagementID, record)
}

func (t *sqliteTransaction) ListMappings(ctx context.Context, engagementID string, filter service.MappingFilter) ([]model.MappingRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return t.storage.listMappingsTx(ctx, t.tx, engagementID, filter)
}

func (t *sqliteTransaction) CurrentGeneration(ctx context.Context, engagementID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return t.storage.currentGenerationTx(ctx, t.tx, engagementID)
}

func (t *sqliteTransaction) BeginGeneration(ctx context.Context, engagementID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return t.storage.beginGenerationTx(ctx, t.tx, engagementID)
}

func (t *sqliteTransaction) RecordDecision(ctx context.Context, engagementID string, record *model.MappingRecord, action model.Decision) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return t.storage.recordDecisionTx(ctx, t.tx, engagementID, record, action)
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}
