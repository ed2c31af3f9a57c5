// Package scorer produces ranked, validated mapping candidates for source
// line items. Semantic judgment is delegated to the reasoning collaborator;
// the scorer owns the top-K bounding, validation, and ordering contract.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/valuebench/coamap/internal/coa"
	"github.com/valuebench/coamap/internal/common"
	"github.com/valuebench/coamap/internal/model"
	"github.com/valuebench/coamap/internal/service"
)

// Config holds configuration for the candidate scorer.
type Config struct {
	// TopK bounds how many index matches are sent to the collaborator per
	// line item, capping external call cost.
	TopK       int
	CacheTTL   time.Duration
	Thresholds model.Thresholds
}

// DefaultConfig returns the default scorer configuration.
func DefaultConfig() Config {
	return Config{
		TopK:       10,
		CacheTTL:   15 * time.Minute,
		Thresholds: model.DefaultThresholds(),
	}
}

// Scorer scores line items against the canonical COA index.
type Scorer struct {
	collaborator service.Collaborator
	cache        *gocache.Cache
	logger       *slog.Logger
	config       Config
}

// New creates a scorer backed by the given reasoning collaborator.
func New(collaborator service.Collaborator, cfg Config, logger *slog.Logger) *Scorer {
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scorer{
		collaborator: collaborator,
		config:       cfg,
		logger:       logger,
		cache:        gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
	}
}

// Thresholds returns the confidence bands this scorer was configured with.
func (s *Scorer) Thresholds() model.Thresholds {
	return s.config.Thresholds
}

// FlushCache drops every cached suggestion. Call it when the canonical
// taxonomy changes; cached candidates were validated against the old index.
func (s *Scorer) FlushCache() {
	s.cache.Flush()
}

// Score produces ranked mapping candidates for one line item, highest
// confidence first with lexicographic target-id tie-breaks.
//
// Invalid target ids from the collaborator are dropped with a warning; if
// that leaves nothing, ErrNoValidCandidates is returned. Out-of-range
// confidence is never clamped: it fails with ErrScorerContract. The call has
// no side effects beyond the collaborator request, so a caller-level timeout
// cancels cleanly with no partial state.
func (s *Scorer) Score(ctx context.Context, item model.SourceLineItem, index *coa.Index) (model.Candidates, error) {
	cacheKey := string(item.StatementType) + "|" + item.RawLabel
	if cached, found := s.cache.Get(cacheKey); found {
		s.logger.Debug("scorer cache hit", "source_id", item.ID, "label", item.RawLabel)
		return rebindSource(cached.(model.Candidates), item.ID), nil
	}

	shortlist := index.TopK(item.RawLabel, s.config.TopK)
	if len(shortlist) == 0 {
		// No lexical match at all. Let the collaborator see a slice of the
		// taxonomy anyway; semantic matches can exist without shared tokens.
		shortlist = index.All()
		if len(shortlist) > s.config.TopK {
			shortlist = shortlist[:s.config.TopK]
		}
	}
	if len(shortlist) == 0 {
		return nil, fmt.Errorf("%w: empty canonical index", common.ErrNoValidCandidates)
	}

	judgments, err := s.collaborator.Judge(ctx, item.RawLabel, shortlist)
	if err != nil {
		if errors.Is(err, common.ErrScorerContract) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if errors.Is(err, common.ErrScoringUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", common.ErrScoringUnavailable, err)
	}

	candidates := make(model.Candidates, 0, len(judgments))
	for i, judgment := range judgments {
		if judgment.Confidence < 0.0 || judgment.Confidence > 1.0 {
			return nil, fmt.Errorf("%w: judgment %d confidence %.2f outside [0,1]",
				common.ErrScorerContract, i, judgment.Confidence)
		}

		account, lookupErr := index.Lookup(judgment.TargetID)
		if lookupErr != nil {
			// Never let an invalid id reach a mapping record.
			s.logger.Warn("dropping judgment with unknown target id",
				"source_id", item.ID,
				"target_id", judgment.TargetID)
			continue
		}

		candidates = append(candidates, model.MappingCandidate{
			SourceID:   item.ID,
			TargetID:   account.ID,
			TargetName: account.Name,
			Confidence: judgment.Confidence,
			Rationale:  judgment.Rationale,
		})
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: all %d judgments referenced unknown accounts",
			common.ErrNoValidCandidates, len(judgments))
	}

	if err := candidates.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrScorerContract, err)
	}

	candidates.Sort()
	s.cache.Set(cacheKey, candidates, gocache.DefaultExpiration)

	s.logger.Info("line item scored",
		"source_id", item.ID,
		"label", item.RawLabel,
		"top_target", candidates[0].TargetID,
		"top_confidence", candidates[0].Confidence,
		"band", s.config.Thresholds.Band(candidates[0].Confidence),
		"candidate_count", len(candidates))

	return candidates, nil
}

// rebindSource re-stamps cached candidates with the requesting item's id.
// Two items can share a label without sharing identity.
func rebindSource(candidates model.Candidates, sourceID string) model.Candidates {
	rebound := make(model.Candidates, len(candidates))
	copy(rebound, candidates)
	for i := range rebound {
		rebound[i].SourceID = sourceID
	}
	return rebound
}
