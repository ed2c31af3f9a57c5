// Package engine orchestrates the reconciliation flow: it feeds line items
// through the candidate scorer and lands the results in each engagement's
// mapping ledger, degrading gracefully when scoring is unavailable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/valuebench/coamap/internal/coa"
	"github.com/valuebench/coamap/internal/common"
	"github.com/valuebench/coamap/internal/ledger"
	"github.com/valuebench/coamap/internal/model"
	"github.com/valuebench/coamap/internal/scorer"
	"github.com/valuebench/coamap/internal/service"
)

// Engine wires storage, the scorer, and per-engagement ledgers together.
type Engine struct {
	storage    service.Storage
	scorer     *scorer.Scorer
	logger     *slog.Logger
	thresholds model.Thresholds
	retry      service.RetryOptions

	mu      sync.Mutex
	ledgers map[string]*ledger.Ledger
	index   *coa.Index
}

// New creates an engine. The retry options govern how many times a
// transiently failing collaborator call is re-attempted before an item is
// marked unscored.
func New(storage service.Storage, s *scorer.Scorer, thresholds model.Thresholds, retry service.RetryOptions, logger *slog.Logger) (*Engine, error) {
	if storage == nil {
		return nil, fmt.Errorf("%w: storage is required", common.ErrInvalidConfig)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: scorer is required", common.ErrInvalidConfig)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		storage:    storage,
		scorer:     s,
		logger:     logger,
		thresholds: thresholds,
		retry:      retry,
		ledgers:    make(map[string]*ledger.Ledger),
	}, nil
}

// Thresholds returns the confidence bands the engine was configured with.
func (e *Engine) Thresholds() model.Thresholds {
	return e.thresholds
}

// Ledger returns the engagement's ledger, creating it on first use. The same
// instance is always returned for an engagement so its write lock is shared.
func (e *Engine) Ledger(engagementID string) (*ledger.Ledger, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if l, ok := e.ledgers[engagementID]; ok {
		return l, nil
	}

	l, err := ledger.New(e.storage, engagementID, e.thresholds, e.logger)
	if err != nil {
		return nil, err
	}
	e.ledgers[engagementID] = l
	return l, nil
}

// LoadAccounts replaces-or-adds canonical accounts and invalidates the
// cached index.
func (e *Engine) LoadAccounts(ctx context.Context, accounts []model.CanonicalAccount) error {
	// Validate as a whole taxonomy before persisting anything.
	if _, err := coa.Load(accounts); err != nil {
		return err
	}
	if err := e.storage.SaveAccounts(ctx, accounts); err != nil {
		return fmt.Errorf("saving accounts: %w", err)
	}

	e.mu.Lock()
	e.index = nil
	e.mu.Unlock()

	// Cached suggestions were validated against the old taxonomy.
	e.scorer.FlushCache()

	e.logger.Info("canonical accounts loaded", "count", len(accounts))
	return nil
}

// Index returns the canonical COA index, building it from storage on first
// use after startup or a LoadAccounts call.
func (e *Engine) Index(ctx context.Context) (*coa.Index, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.index != nil {
		return e.index, nil
	}

	accounts, err := e.storage.GetAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading accounts: %w", err)
	}

	index, err := coa.Load(accounts)
	if err != nil {
		return nil, err
	}
	e.index = index
	return index, nil
}

// IngestLineItems stores an engagement's source line items for scoring.
func (e *Engine) IngestLineItems(ctx context.Context, engagementID string, items []model.SourceLineItem) error {
	return e.storage.SaveLineItems(ctx, engagementID, items)
}

// ScoreReport summarizes one scoring pass over an engagement.
type ScoreReport struct {
	Scored            int
	Unscored          int
	NoValidCandidates int
	SkippedDecided    int
	Failed            []service.BatchFailure
}

// ScoreEngagement scores every stored line item and upserts the results into
// the engagement's ledger. Decided items are skipped. Scoring unavailability
// degrades the item to a pending unscored record instead of failing the run;
// a scorer contract violation fails the run, because the collaborator's
// output can no longer be trusted.
func (e *Engine) ScoreEngagement(ctx context.Context, engagementID string) (*ScoreReport, error) {
	index, err := e.Index(ctx)
	if err != nil {
		return nil, err
	}
	l, err := e.Ledger(engagementID)
	if err != nil {
		return nil, err
	}
	items, err := e.storage.GetLineItems(ctx, engagementID)
	if err != nil {
		return nil, fmt.Errorf("loading line items: %w", err)
	}

	report := &ScoreReport{}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		existing, err := l.Get(ctx, item.ID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return report, err
		}
		if existing != nil && existing.IsDecided() {
			report.SkippedDecided++
			continue
		}

		candidates, err := e.scoreWithRetry(ctx, item, index)
		switch {
		case err == nil:
			if _, err := l.UpsertFromScoring(ctx, item, candidates); err != nil {
				return report, err
			}
			report.Scored++
		case errors.Is(err, common.ErrNoValidCandidates):
			if _, err := l.UpsertFromScoring(ctx, item, nil); err != nil {
				return report, err
			}
			report.NoValidCandidates++
		case errors.Is(err, common.ErrScoringUnavailable):
			if _, err := l.MarkUnscored(ctx, item); err != nil {
				return report, err
			}
			report.Unscored++
		case errors.Is(err, common.ErrScorerContract):
			return report, err
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return report, err
		default:
			report.Failed = append(report.Failed, service.BatchFailure{
				SourceID: item.ID,
				Reason:   err.Error(),
			})
		}
	}

	e.logger.Info("engagement scored",
		"engagement_id", engagementID,
		"scored", report.Scored,
		"unscored", report.Unscored,
		"no_valid_candidates", report.NoValidCandidates,
		"skipped_decided", report.SkippedDecided,
		"failed", len(report.Failed))

	return report, nil
}

// Suggest scores one stored line item and returns the full ranked candidate
// list after landing the top candidate in the ledger.
func (e *Engine) Suggest(ctx context.Context, engagementID, sourceID string) (model.Candidates, *model.MappingRecord, error) {
	index, err := e.Index(ctx)
	if err != nil {
		return nil, nil, err
	}
	l, err := e.Ledger(engagementID)
	if err != nil {
		return nil, nil, err
	}

	items, err := e.storage.GetLineItems(ctx, engagementID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading line items: %w", err)
	}
	var item *model.SourceLineItem
	for i := range items {
		if items[i].ID == sourceID {
			item = &items[i]
			break
		}
	}
	if item == nil {
		return nil, nil, fmt.Errorf("%w: line item %s", common.ErrNotFound, sourceID)
	}

	candidates, err := e.scoreWithRetry(ctx, *item, index)
	if err != nil {
		if errors.Is(err, common.ErrNoValidCandidates) {
			record, upsertErr := l.UpsertFromScoring(ctx, *item, nil)
			if upsertErr != nil {
				return nil, nil, upsertErr
			}
			return nil, record, nil
		}
		return nil, nil, err
	}

	record, err := l.UpsertFromScoring(ctx, *item, candidates)
	if err != nil {
		return nil, nil, err
	}
	return candidates, record, nil
}

// scoreWithRetry retries transient collaborator failures; contract
// violations, empty candidate sets, and cancellations pass straight through.
func (e *Engine) scoreWithRetry(ctx context.Context, item model.SourceLineItem, index *coa.Index) (model.Candidates, error) {
	var candidates model.Candidates
	err := common.WithRetry(ctx, func() error {
		var scoreErr error
		candidates, scoreErr = e.scorer.Score(ctx, item, index)
		if scoreErr == nil {
			return nil
		}
		if !common.IsRetryable(scoreErr) {
			return &common.RetryableError{Err: scoreErr, Retryable: false}
		}
		return scoreErr
	}, e.retry)
	if err != nil {
		// Unwrap the retry envelope so callers match on the cause.
		var retryable *common.RetryableError
		if errors.As(err, &retryable) {
			return nil, retryable.Err
		}
		if errors.Is(err, common.ErrMaxRetries) {
			return nil, fmt.Errorf("%w: %v", common.ErrScoringUnavailable, err)
		}
		return nil, err
	}
	return candidates, nil
}
