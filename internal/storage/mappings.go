package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/valuebench/coamap/internal/common"
	"github.com/valuebench/coamap/internal/model"
	"github.com/valuebench/coamap/internal/service"
)

// ensureEngagementTx creates the engagement row on first contact. New
// engagements start at generation 1.
func (s *SQLiteStorage) ensureEngagementTx(ctx context.Context, q queryable, engagementID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO engagements (id, generation) VALUES (?, 1)
		ON CONFLICT(id) DO NOTHING
	`, engagementID)
	if err != nil {
		return fmt.Errorf("failed to ensure engagement %s: %w", engagementID, err)
	}
	return nil
}

// CurrentGeneration returns the engagement's active mapping generation,
// creating the engagement at generation 1 if it does not exist yet.
func (s *SQLiteStorage) CurrentGeneration(ctx context.Context, engagementID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(engagementID, "engagementID"); err != nil {
		return 0, err
	}
	return s.currentGenerationTx(ctx, s.db, engagementID)
}

func (s *SQLiteStorage) currentGenerationTx(ctx context.Context, q queryable, engagementID string) (int, error) {
	if err := s.ensureEngagementTx(ctx, q, engagementID); err != nil {
		return 0, err
	}

	var generation int
	err := q.QueryRowContext(ctx,
		`SELECT generation FROM engagements WHERE id = ?`, engagementID,
	).Scan(&generation)
	if err != nil {
		return 0, fmt.Errorf("failed to read generation for %s: %w", engagementID, err)
	}

	return generation, nil
}

// BeginGeneration starts a fresh mapping generation for the engagement.
// Rows from earlier generations are kept for audit, never mutated.
func (s *SQLiteStorage) BeginGeneration(ctx context.Context, engagementID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(engagementID, "engagementID"); err != nil {
		return 0, err
	}
	return s.beginGenerationTx(ctx, s.db, engagementID)
}

func (s *SQLiteStorage) beginGenerationTx(ctx context.Context, q queryable, engagementID string) (int, error) {
	if err := s.ensureEngagementTx(ctx, q, engagementID); err != nil {
		return 0, err
	}

	_, err := q.ExecContext(ctx, `
		UPDATE engagements
		SET generation = generation + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, engagementID)
	if err != nil {
		return 0, fmt.Errorf("failed to advance generation for %s: %w", engagementID, err)
	}

	return s.currentGenerationTx(ctx, q, engagementID)
}

// GetMapping returns the current-generation mapping record for one source id.
func (s *SQLiteStorage) GetMapping(ctx context.Context, engagementID, sourceID string) (*model.MappingRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(engagementID, "engagementID"); err != nil {
		return nil, err
	}
	if err := validateString(sourceID, "sourceID"); err != nil {
		return nil, err
	}
	return s.getMappingTx(ctx, s.db, engagementID, sourceID)
}

const mappingColumns = `
	m.source_id, m.source_name, m.target_id, m.target_name,
	m.confidence, m.rationale, m.status, m.condition,
	m.decided_by, m.decided_at, m.generation`

func (s *SQLiteStorage) getMappingTx(ctx context.Context, q queryable, engagementID, sourceID string) (*model.MappingRecord, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+mappingColumns+`
		FROM mappings m
		JOIN engagements e ON e.id = m.engagement_id AND e.generation = m.generation
		WHERE m.engagement_id = ? AND m.source_id = ?
	`, engagementID, sourceID)

	record, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: mapping %s/%s", common.ErrNotFound, engagementID, sourceID)
	}
	if err != nil {
		return nil, err
	}

	return record, nil
}

// UpsertMapping writes a mapping record into the engagement's current
// generation.
func (s *SQLiteStorage) UpsertMapping(ctx context.Context, engagementID string, record *model.MappingRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(engagementID, "engagementID"); err != nil {
		return err
	}
	if err := validateRecord(record); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.upsertMappingTx(ctx, tx, engagementID, record); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStorage) upsertMappingTx(ctx context.Context, q queryable, engagementID string, record *model.MappingRecord) error {
	generation, err := s.currentGenerationTx(ctx, q, engagementID)
	if err != nil {
		return err
	}
	record.Generation = generation

	var decidedAt any
	if record.DecidedAt != nil {
		decidedAt = record.DecidedAt.UTC()
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO mappings (
			engagement_id, generation, source_id, source_name,
			target_id, target_name, confidence, rationale,
			status, condition, decided_by, decided_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(engagement_id, generation, source_id) DO UPDATE SET
			source_name = excluded.source_name,
			target_id = excluded.target_id,
			target_name = excluded.target_name,
			confidence = excluded.confidence,
			rationale = excluded.rationale,
			status = excluded.status,
			condition = excluded.condition,
			decided_by = excluded.decided_by,
			decided_at = excluded.decided_at,
			updated_at = CURRENT_TIMESTAMP
	`,
		engagementID,
		generation,
		record.SourceID,
		record.SourceName,
		record.TargetID,
		record.TargetName,
		record.Confidence,
		record.Rationale,
		string(record.Status),
		string(record.Condition),
		record.DecidedBy,
		decidedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert mapping %s: %w", record.SourceID, err)
	}

	return nil
}

// ListMappings returns current-generation records for an engagement, ordered
// by source id, optionally filtered by status.
func (s *SQLiteStorage) ListMappings(ctx context.Context, engagementID string, filter service.MappingFilter) ([]model.MappingRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(engagementID, "engagementID"); err != nil {
		return nil, err
	}
	return s.listMappingsTx(ctx, s.db, engagementID, filter)
}

func (s *SQLiteStorage) listMappingsTx(ctx context.Context, q queryable, engagementID string, filter service.MappingFilter) ([]model.MappingRecord, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM mappings m
		JOIN engagements e ON e.id = m.engagement_id AND e.generation = m.generation
		WHERE m.engagement_id = ?`
	args := []any{engagementID}

	if filter.Status != "" {
		query += ` AND m.status = ?`
		args = append(args, string(filter.Status))
	}

	query += ` ORDER BY m.source_id`

	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.MappingRecord
	for rows.Next() {
		record, scanErr := scanMapping(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, *record)
	}

	return records, rows.Err()
}

// RecordDecision appends an immutable audit entry for a reviewer action.
func (s *SQLiteStorage) RecordDecision(ctx context.Context, engagementID string, record *model.MappingRecord, action model.Decision) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(engagementID, "engagementID"); err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("%w: record", ErrNilParameter)
	}
	return s.recordDecisionTx(ctx, s.db, engagementID, record, action)
}

func (s *SQLiteStorage) recordDecisionTx(ctx context.Context, q queryable, engagementID string, record *model.MappingRecord, action model.Decision) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO decision_history (
			id, engagement_id, generation, source_id, target_id,
			action, actor, confidence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		uuid.NewString(),
		engagementID,
		record.Generation,
		record.SourceID,
		record.TargetID,
		string(action),
		record.DecidedBy,
		record.Confidence,
	)
	if err != nil {
		return fmt.Errorf("failed to record decision for %s: %w", record.SourceID, err)
	}

	return nil
}

func scanMapping(row rowScanner) (*model.MappingRecord, error) {
	var record model.MappingRecord
	var sourceName, targetID, targetName, rationale, decidedBy sql.NullString
	var status, condition string
	var decidedAt sql.NullTime

	err := row.Scan(
		&record.SourceID,
		&sourceName,
		&targetID,
		&targetName,
		&record.Confidence,
		&rationale,
		&status,
		&condition,
		&decidedBy,
		&decidedAt,
		&record.Generation,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan mapping: %w", err)
	}

	record.Status = model.MappingStatus(status)
	record.Condition = model.MappingCondition(condition)
	record.SourceName = sourceName.String
	record.TargetID = targetID.String
	record.TargetName = targetName.String
	record.Rationale = rationale.String
	record.DecidedBy = decidedBy.String
	if decidedAt.Valid {
		t := decidedAt.Time
		record.DecidedAt = &t
	}

	return &record, nil
}
