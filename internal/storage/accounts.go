package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/valuebench/coamap/internal/common"
	"github.com/valuebench/coamap/internal/model"
)

// SaveAccounts stores or replaces the canonical chart of accounts.
func (s *SQLiteStorage) SaveAccounts(ctx context.Context, accounts []model.CanonicalAccount) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAccounts(accounts); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveAccountsTx(ctx, tx, accounts); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) saveAccountsTx(ctx context.Context, q queryable, accounts []model.CanonicalAccount) error {
	for _, account := range accounts {
		synonyms, err := json.Marshal(account.Synonyms)
		if err != nil {
			return fmt.Errorf("failed to encode synonyms for %s: %w", account.ID, err)
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO canonical_accounts (id, name, category, synonyms)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				category = excluded.category,
				synonyms = excluded.synonyms
		`,
			account.ID,
			account.Name,
			string(account.Category),
			string(synonyms),
		)
		if err != nil {
			return fmt.Errorf("failed to save account %s: %w", account.ID, err)
		}
	}

	return nil
}

// GetAccounts returns every canonical account ordered by id.
func (s *SQLiteStorage) GetAccounts(ctx context.Context) ([]model.CanonicalAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getAccountsTx(ctx, s.db)
}

func (s *SQLiteStorage) getAccountsTx(ctx context.Context, q queryable) ([]model.CanonicalAccount, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, category, synonyms
		FROM canonical_accounts
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []model.CanonicalAccount
	for rows.Next() {
		account, scanErr := scanAccount(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

// GetAccountByID returns one canonical account.
func (s *SQLiteStorage) GetAccountByID(ctx context.Context, id string) (*model.CanonicalAccount, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getAccountByIDTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getAccountByIDTx(ctx context.Context, q queryable, id string) (*model.CanonicalAccount, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, category, synonyms
		FROM canonical_accounts
		WHERE id = ?
	`, id)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %q", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	return &account, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (model.CanonicalAccount, error) {
	var account model.CanonicalAccount
	var category string
	var synonyms sql.NullString

	if err := row.Scan(&account.ID, &account.Name, &category, &synonyms); err != nil {
		return model.CanonicalAccount{}, fmt.Errorf("failed to scan account: %w", err)
	}

	account.Category = model.AccountCategory(category)
	if synonyms.Valid && synonyms.String != "" {
		if err := json.Unmarshal([]byte(synonyms.String), &account.Synonyms); err != nil {
			return model.CanonicalAccount{}, fmt.Errorf("failed to parse synonyms for %s: %w", account.ID, err)
		}
	}

	return account, nil
}
