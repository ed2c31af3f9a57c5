package storage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/valuebench/coamap/internal/model"
)

// SaveLineItems stores extracted line items for an engagement. Values are
// persisted as decimal strings so nothing is lost to float rounding.
func (s *SQLiteStorage) SaveLineItems(ctx context.Context, engagementID string, items []model.SourceLineItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(engagementID, "engagementID"); err != nil {
		return err
	}
	if err := validateLineItems(items); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.saveLineItemsTx(ctx, tx, engagementID, items); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) saveLineItemsTx(ctx context.Context, q queryable, engagementID string, items []model.SourceLineItem) error {
	if err := s.ensureEngagementTx(ctx, q, engagementID); err != nil {
		return err
	}

	for _, item := range items {
		_, err := q.ExecContext(ctx, `
			INSERT INTO line_items (engagement_id, id, raw_label, raw_value, statement_type)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(engagement_id, id) DO UPDATE SET
				raw_label = excluded.raw_label,
				raw_value = excluded.raw_value,
				statement_type = excluded.statement_type
		`,
			engagementID,
			item.ID,
			item.RawLabel,
			item.RawValue.String(),
			string(item.StatementType),
		)
		if err != nil {
			return fmt.Errorf("failed to save line item %s: %w", item.ID, err)
		}
	}

	return nil
}

// GetLineItems returns every line item for an engagement ordered by id.
func (s *SQLiteStorage) GetLineItems(ctx context.Context, engagementID string) ([]model.SourceLineItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(engagementID, "engagementID"); err != nil {
		return nil, err
	}
	return s.getLineItemsTx(ctx, s.db, engagementID)
}

func (s *SQLiteStorage) getLineItemsTx(ctx context.Context, q queryable, engagementID string) ([]model.SourceLineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, raw_label, raw_value, statement_type
		FROM line_items
		WHERE engagement_id = ?
		ORDER BY id
	`, engagementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.SourceLineItem
	for rows.Next() {
		var item model.SourceLineItem
		var rawValue, statementType string

		if err := rows.Scan(&item.ID, &item.RawLabel, &rawValue, &statementType); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}

		value, parseErr := decimal.NewFromString(rawValue)
		if parseErr != nil {
			return nil, fmt.Errorf("corrupt raw value for line item %s: %w", item.ID, parseErr)
		}

		item.RawValue = value
		item.StatementType = model.StatementType(statementType)
		items = append(items, item)
	}

	return items, rows.Err()
}
