// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/valuebench/coamap/internal/model"
)

// MappingFilter defines filtering options for mapping queries.
type MappingFilter struct {
	Status model.MappingStatus
	Limit  int
	Offset int
}

// Storage defines the contract for our persistence layer. Mapping records are
// keyed by (engagement_id, source_id) within the engagement's current
// generation, with read-your-writes consistency.
type Storage interface {
	// Canonical account operations
	SaveAccounts(ctx context.Context, accounts []model.CanonicalAccount) error
	GetAccounts(ctx context.Context) ([]model.CanonicalAccount, error)
	GetAccountByID(ctx context.Context, id string) (*model.CanonicalAccount, error)

	// Line item operations
	SaveLineItems(ctx context.Context, engagementID string, items []model.SourceLineItem) error
	GetLineItems(ctx context.Context, engagementID string) ([]model.SourceLineItem, error)

	// Mapping record operations
	GetMapping(ctx context.Context, engagementID, sourceID string) (*model.MappingRecord, error)
	UpsertMapping(ctx context.Context, engagementID string, record *model.MappingRecord) error
	ListMappings(ctx context.Context, engagementID string, filter MappingFilter) ([]model.MappingRecord, error)
	CurrentGeneration(ctx context.Context, engagementID string) (int, error)
	BeginGeneration(ctx context.Context, engagementID string) (int, error)

	// Decision audit trail
	RecordDecision(ctx context.Context, engagementID string, record *model.MappingRecord, action model.Decision) error

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// Judgment is one raw candidate judgment returned by the reasoning
// collaborator, before any validation.
type Judgment struct {
	TargetID   string
	Rationale  string
	Confidence float64
}

// Collaborator is the external reasoning service consulted by the candidate
// scorer. Implementations must treat the call as long-latency and honor
// context cancellation.
type Collaborator interface {
	Judge(ctx context.Context, label string, accounts []model.CanonicalAccount) ([]Judgment, error)
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// BatchResult reports the outcome of a bulk decision, id by id.
type BatchResult struct {
	Succeeded []string
	Failed    []BatchFailure
}

// BatchFailure pairs a source id with the reason its decision was refused.
type BatchFailure struct {
	SourceID string
	Reason   string
}
