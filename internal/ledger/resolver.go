package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/valuebench/coamap/internal/common"
	"github.com/valuebench/coamap/internal/model"
	"github.com/valuebench/coamap/internal/service"
)

// ApproveAboveThreshold approves every pending record whose confidence is at
// or above the cutoff. Decided records and records carrying a condition flag
// are never touched, so the operation is safe to repeat. Returns the number
// of records approved.
func (l *Ledger) ApproveAboveThreshold(ctx context.Context, threshold float64, actor string) (int, error) {
	if threshold < 0 || threshold > 1 {
		return 0, fmt.Errorf("threshold %v out of range [0, 1]", threshold)
	}

	pending, err := l.List(ctx, service.MappingFilter{Status: model.StatusPending})
	if err != nil {
		return 0, fmt.Errorf("listing pending records: %w", err)
	}

	approved := 0
	for _, record := range pending {
		if record.Condition != "" || record.Confidence < threshold {
			continue
		}
		if _, err := l.Decide(ctx, record.SourceID, model.DecisionApprove, actor); err != nil {
			if errors.Is(err, common.ErrAlreadyDecided) {
				// Decided by someone else between the listing and now; the
				// standing decision wins and the rest of the batch proceeds.
				l.logger.Info("skipping record decided during bulk approval",
					"engagement_id", l.engagementID,
					"source_id", record.SourceID)
				continue
			}
			return approved, fmt.Errorf("approving %s: %w", record.SourceID, err)
		}
		approved++
	}

	l.logger.Info("bulk approval applied",
		"engagement_id", l.engagementID,
		"threshold", threshold,
		"approved", approved,
		"actor", actor)

	return approved, nil
}

// DecideMany applies one decision to a set of source ids. Each id succeeds or
// fails independently; a failure never aborts the rest of the batch.
func (l *Ledger) DecideMany(ctx context.Context, sourceIDs []string, action model.Decision, actor string) (*service.BatchResult, error) {
	if _, err := action.TerminalStatus(); err != nil {
		return nil, err
	}

	result := &service.BatchResult{}
	for _, sourceID := range sourceIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := l.Decide(ctx, sourceID, action, actor); err != nil {
			result.Failed = append(result.Failed, service.BatchFailure{
				SourceID: sourceID,
				Reason:   err.Error(),
			})
			continue
		}
		result.Succeeded = append(result.Succeeded, sourceID)
	}

	return result, nil
}

// ApproveMany approves a set of source ids.
func (l *Ledger) ApproveMany(ctx context.Context, sourceIDs []string, actor string) (*service.BatchResult, error) {
	return l.DecideMany(ctx, sourceIDs, model.DecisionApprove, actor)
}

// RejectMany rejects a set of source ids.
func (l *Ledger) RejectMany(ctx context.Context, sourceIDs []string, actor string) (*service.BatchResult, error) {
	return l.DecideMany(ctx, sourceIDs, model.DecisionReject, actor)
}
