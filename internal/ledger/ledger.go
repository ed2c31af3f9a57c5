// Package ledger is the authoritative state machine for mapping records.
// All writes to an engagement's records go through a Ledger, which serializes
// them so concurrent decisions resolve to exactly one winner.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/valuebench/coamap/internal/common"
	"github.com/valuebench/coamap/internal/model"
	"github.com/valuebench/coamap/internal/service"
)

// Ledger owns the mapping records of a single engagement. It enforces the
// lifecycle rules: pending records may be re-scored or decided, decided
// records are immutable until the engagement is cleared.
type Ledger struct {
	storage      service.Storage
	logger       *slog.Logger
	engagementID string
	thresholds   model.Thresholds

	// mu serializes all writes for this engagement. Reads go straight to
	// storage; the write lock is what makes Decide first-wins.
	mu sync.Mutex
}

// New creates a ledger bound to one engagement.
func New(storage service.Storage, engagementID string, thresholds model.Thresholds, logger *slog.Logger) (*Ledger, error) {
	if storage == nil {
		return nil, fmt.Errorf("%w: storage is required", common.ErrInvalidConfig)
	}
	if engagementID == "" {
		return nil, fmt.Errorf("%w: engagement id is required", common.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Ledger{
		storage:      storage,
		logger:       logger,
		engagementID: engagementID,
		thresholds:   thresholds,
	}, nil
}

// EngagementID returns the engagement this ledger serves.
func (l *Ledger) EngagementID() string {
	return l.engagementID
}

// Thresholds returns the confidence bands this ledger summarizes with.
func (l *Ledger) Thresholds() model.Thresholds {
	return l.thresholds
}

// Get returns the current record for a source line item.
func (l *Ledger) Get(ctx context.Context, sourceID string) (*model.MappingRecord, error) {
	return l.storage.GetMapping(ctx, l.engagementID, sourceID)
}

// List returns the engagement's current-generation records.
func (l *Ledger) List(ctx context.Context, filter service.MappingFilter) ([]model.MappingRecord, error) {
	return l.storage.ListMappings(ctx, l.engagementID, filter)
}

// UpsertFromScoring writes a fresh scoring result for a line item. The top
// candidate becomes the record's proposal; an empty candidate list produces a
// pending record flagged no_valid_candidates. Decided records are left
// untouched and the stale result is discarded.
func (l *Ledger) UpsertFromScoring(ctx context.Context, item model.SourceLineItem, candidates model.Candidates) (*model.MappingRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.storage.GetMapping(ctx, l.engagementID, item.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("loading record for %s: %w", item.ID, err)
	}
	if existing != nil && existing.IsDecided() {
		l.logger.Info("discarding score for decided item",
			"engagement_id", l.engagementID,
			"source_id", item.ID,
			"status", existing.Status)
		return existing, nil
	}

	record := &model.MappingRecord{
		SourceID:   item.ID,
		SourceName: item.RawLabel,
		Status:     model.StatusPending,
	}
	if top := candidates.Top(); top != nil {
		record.TargetID = top.TargetID
		record.TargetName = top.TargetName
		record.Rationale = top.Rationale
		record.Confidence = top.Confidence
	} else {
		record.Condition = model.ConditionNoValidCandidates
	}

	if err := l.storage.UpsertMapping(ctx, l.engagementID, record); err != nil {
		return nil, fmt.Errorf("upserting record for %s: %w", item.ID, err)
	}

	return record, nil
}

// MarkUnscored records that the item could not be scored because the
// reasoning collaborator was unavailable. The item stays reviewable: it gets
// a pending record with the unscored condition and no proposal. Decided
// records are left alone.
func (l *Ledger) MarkUnscored(ctx context.Context, item model.SourceLineItem) (*model.MappingRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.storage.GetMapping(ctx, l.engagementID, item.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("loading record for %s: %w", item.ID, err)
	}
	if existing != nil && existing.IsDecided() {
		return existing, nil
	}

	record := &model.MappingRecord{
		SourceID:   item.ID,
		SourceName: item.RawLabel,
		Status:     model.StatusPending,
		Condition:  model.ConditionUnscored,
	}
	if err := l.storage.UpsertMapping(ctx, l.engagementID, record); err != nil {
		return nil, fmt.Errorf("upserting unscored record for %s: %w", item.ID, err)
	}

	l.logger.Warn("line item left unscored",
		"engagement_id", l.engagementID,
		"source_id", item.ID)

	return record, nil
}

// Decide applies a reviewer decision to a pending record. Repeating a
// decision that already stands is a no-op; a conflicting decision on a
// decided record fails with ErrAlreadyDecided. The record's source id must
// already exist in the ledger.
func (l *Ledger) Decide(ctx context.Context, sourceID string, action model.Decision, actor string) (*model.MappingRecord, error) {
	target, err := action.TerminalStatus()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record, err := l.storage.GetMapping(ctx, l.engagementID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("loading record for %s: %w", sourceID, err)
	}

	if record.IsDecided() {
		if record.Status == target {
			// Idempotent repeat of the standing decision.
			return record, nil
		}
		return nil, fmt.Errorf("%w: %s is already %s", common.ErrAlreadyDecided, sourceID, record.Status)
	}

	now := time.Now().UTC()
	record.Status = target
	record.DecidedBy = actor
	record.DecidedAt = &now

	// The record and its audit row commit together or not at all.
	tx, err := l.storage.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning decision transaction for %s: %w", sourceID, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.UpsertMapping(ctx, l.engagementID, record); err != nil {
		return nil, fmt.Errorf("saving decision for %s: %w", sourceID, err)
	}
	if err := tx.RecordDecision(ctx, l.engagementID, record, action); err != nil {
		return nil, fmt.Errorf("recording decision for %s: %w", sourceID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing decision for %s: %w", sourceID, err)
	}

	l.logger.Info("mapping decided",
		"engagement_id", l.engagementID,
		"source_id", sourceID,
		"action", action,
		"actor", actor)

	return record, nil
}

// Summary aggregates the current generation's records into status counts and
// confidence bands. Unscored and no-valid-candidate records count as low
// confidence so they surface in review queues.
func (l *Ledger) Summary(ctx context.Context) (*model.MappingSummary, error) {
	records, err := l.storage.ListMappings(ctx, l.engagementID, service.MappingFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	summary := &model.MappingSummary{Total: len(records)}
	for _, record := range records {
		switch record.Status {
		case model.StatusPending:
			summary.Pending++
		case model.StatusApproved:
			summary.Approved++
		case model.StatusRejected:
			summary.Rejected++
		}

		if record.Condition != "" {
			summary.LowConfidence++
			continue
		}
		switch l.thresholds.Band(record.Confidence) {
		case "high":
			summary.HighConfidence++
		case "medium":
			summary.MediumConfidence++
		default:
			summary.LowConfidence++
		}
	}

	return summary, nil
}

// Clear starts a new generation for the engagement. Old records, decided
// ones included, stop being visible but are never mutated; the audit history
// keeps them reconstructible.
func (l *Ledger) Clear(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	generation, err := l.storage.BeginGeneration(ctx, l.engagementID)
	if err != nil {
		return 0, fmt.Errorf("starting new generation: %w", err)
	}

	l.logger.Info("engagement cleared",
		"engagement_id", l.engagementID,
		"generation", generation)

	return generation, nil
}
