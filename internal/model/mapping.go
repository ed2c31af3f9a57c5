package model

import (
	"fmt"
	"time"
)

// MappingStatus tracks where a mapping record sits in the review lifecycle.
type MappingStatus string

// Mapping status constants.
const (
	StatusPending  MappingStatus = "pending"
	StatusApproved MappingStatus = "approved"
	StatusRejected MappingStatus = "rejected"
)

// MappingCondition flags records that need reviewer attention for reasons
// other than low confidence. An empty condition means the record carries a
// normal scored candidate.
type MappingCondition string

// Mapping condition constants.
const (
	// ConditionUnscored marks items the reasoning collaborator could not score.
	ConditionUnscored MappingCondition = "unscored"
	// ConditionNoValidCandidates marks items where every returned candidate
	// referenced an unknown canonical account.
	ConditionNoValidCandidates MappingCondition = "no_valid_candidates"
)

// Decision is a reviewer action applied to a pending mapping record.
type Decision string

// Decision constants.
const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// TerminalStatus returns the status a decision transitions a record into.
func (d Decision) TerminalStatus() (MappingStatus, error) {
	switch d {
	case DecisionApprove:
		return StatusApproved, nil
	case DecisionReject:
		return StatusRejected, nil
	default:
		return "", fmt.Errorf("unknown decision %q", d)
	}
}

// MappingRecord is the ledger's unit of state: the current mapping proposal
// for one source line item plus its approval status.
type MappingRecord struct {
	DecidedAt  *time.Time
	SourceID   string
	SourceName string
	TargetID   string
	TargetName string
	Rationale  string
	DecidedBy  string
	Status     MappingStatus
	Condition  MappingCondition
	Confidence float64
	Generation int
}

// IsDecided reports whether the record has reached a terminal status.
func (r *MappingRecord) IsDecided() bool {
	return r.Status == StatusApproved || r.Status == StatusRejected
}

// CanTransition reports whether moving to the given status is a legal
// lifecycle transition. Pending records may be re-scored (pending→pending)
// or decided; decided records are terminal.
func (r *MappingRecord) CanTransition(to MappingStatus) bool {
	switch r.Status {
	case StatusPending:
		return to == StatusPending || to == StatusApproved || to == StatusRejected
	case StatusApproved, StatusRejected:
		return false
	default:
		return false
	}
}

// MappingSummary aggregates a ledger's records by confidence band and status.
type MappingSummary struct {
	Total            int
	HighConfidence   int
	MediumConfidence int
	LowConfidence    int
	Pending          int
	Approved         int
	Rejected         int
}

// Thresholds define the confidence bands used for summary buckets and
// bulk-approval cutoffs. They never affect correctness of individual records.
type Thresholds struct {
	High   float64
	Medium float64
}

// DefaultThresholds returns the standard review bands.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.90, Medium: 0.70}
}

// Band returns which confidence band a score falls into.
func (t Thresholds) Band(confidence float64) string {
	switch {
	case confidence >= t.High:
		return "high"
	case confidence >= t.Medium:
		return "medium"
	default:
		return "low"
	}
}
