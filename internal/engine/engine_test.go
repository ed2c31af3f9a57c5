package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valuebench/coamap/internal/common"
	"github.com/valuebench/coamap/internal/model"
	"github.com/valuebench/coamap/internal/reason"
	"github.com/valuebench/coamap/internal/scorer"
	"github.com/valuebench/coamap/internal/service"
	"github.com/valuebench/coamap/internal/storage"
)

func testAccounts() []model.CanonicalAccount {
	return []model.CanonicalAccount{
		{ID: "revenue.product", Name: "Product Revenue", Category: model.CategoryRevenue, Synonyms: []string{"product sales"}},
		{ID: "revenue.service", Name: "Service Revenue", Category: model.CategoryRevenue},
		{ID: "cogs.materials", Name: "Materials Cost", Category: model.CategoryCOGS},
	}
}

func createTestEngine(t *testing.T) (*Engine, *reason.MockCollaborator, func()) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	mock := reason.NewMockCollaborator()
	s := scorer.New(mock, scorer.DefaultConfig(), nil)

	retry := service.RetryOptions{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	e, err := New(store, s, model.DefaultThresholds(), retry, nil)
	require.NoError(t, err)

	require.NoError(t, e.LoadAccounts(context.Background(), testAccounts()))

	return e, mock, func() { _ = store.Close() }
}

func item(id, label string) model.SourceLineItem {
	return model.SourceLineItem{
		ID:            id,
		RawLabel:      label,
		RawValue:      decimal.NewFromInt(100),
		StatementType: model.StatementIncome,
	}
}

func TestScoreEngagementHappyPath(t *testing.T) {
	e, mock, cleanup := createTestEngine(t)
	defer cleanup()
	ctx := context.Background()

	mock.SetResponse("Product Sales", []service.Judgment{
		{TargetID: "revenue.product", Confidence: 0.95, Rationale: "direct product revenue line"},
		{TargetID: "revenue.service", Confidence: 0.30, Rationale: "unlikely"},
	})

	require.NoError(t, e.IngestLineItems(ctx, "eng-1", []model.SourceLineItem{item("L1", "Product Sales")}))

	report, err := e.ScoreEngagement(ctx, "eng-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scored)
	assert.Zero(t, report.Unscored)

	l, err := e.Ledger("eng-1")
	require.NoError(t, err)
	record, err := l.Get(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "revenue.product", record.TargetID)
	assert.Equal(t, model.StatusPending, record.Status)
	assert.InDelta(t, 0.95, record.Confidence, 1e-9)
}

func TestScoreEngagementDegradesWhenUnavailable(t *testing.T) {
	e, mock, cleanup := createTestEngine(t)
	defer cleanup()
	ctx := context.Background()

	mock.SetError(errors.New("upstream timeout"))

	require.NoError(t, e.IngestLineItems(ctx, "eng-1", []model.SourceLineItem{item("L1", "Product Sales")}))

	report, err := e.ScoreEngagement(ctx, "eng-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Unscored)
	assert.Zero(t, report.Scored)

	l, err := e.Ledger("eng-1")
	require.NoError(t, err)
	record, err := l.Get(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, record.Status)
	assert.Equal(t, model.ConditionUnscored, record.Condition)
}

func TestScoreEngagementNoValidCandidates(t *testing.T) {
	e, mock, cleanup := createTestEngine(t)
	defer cleanup()
	ctx := context.Background()

	mock.SetResponse("Mystery Line", []service.Judgment{
		{TargetID: "bogus.account", Confidence: 0.9, Rationale: "made up"},
	})

	require.NoError(t, e.IngestLineItems(ctx, "eng-1", []model.SourceLineItem{item("L1", "Mystery Line")}))

	report, err := e.ScoreEngagement(ctx, "eng-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.NoValidCandidates)

	l, err := e.Ledger("eng-1")
	require.NoError(t, err)
	record, err := l.Get(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, model.ConditionNoValidCandidates, record.Condition)
	assert.Empty(t, record.TargetID)
}

func TestScoreEngagementContractViolationAborts(t *testing.T) {
	e, mock, cleanup := createTestEngine(t)
	defer cleanup()
	ctx := context.Background()

	mock.SetResponse("Product Sales", []service.Judgment{
		{TargetID: "revenue.product", Confidence: 1.7, Rationale: "overconfident"},
	})

	require.NoError(t, e.IngestLineItems(ctx, "eng-1", []model.SourceLineItem{item("L1", "Product Sales")}))

	_, err := e.ScoreEngagement(ctx, "eng-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrScorerContract)
	// A contract violation is not transient; retrying it would just replay
	// the same untrustworthy output.
	assert.Len(t, mock.Calls(), 1)
}

func TestScoreEngagementSkipsDecided(t *testing.T) {
	e, mock, cleanup := createTestEngine(t)
	defer cleanup()
	ctx := context.Background()

	mock.SetResponse("Product Sales", []service.Judgment{
		{TargetID: "revenue.product", Confidence: 0.95, Rationale: "clear match"},
	})

	require.NoError(t, e.IngestLineItems(ctx, "eng-1", []model.SourceLineItem{item("L1", "Product Sales")}))
	_, err := e.ScoreEngagement(ctx, "eng-1")
	require.NoError(t, err)

	l, err := e.Ledger("eng-1")
	require.NoError(t, err)
	_, err = l.Decide(ctx, "L1", model.DecisionApprove, "analyst")
	require.NoError(t, err)

	callsBefore := len(mock.Calls())
	report, err := e.ScoreEngagement(ctx, "eng-1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.SkippedDecided)
	assert.Zero(t, report.Scored)
	// The decided item never reaches the collaborator again.
	assert.Len(t, mock.Calls(), callsBefore)
}

func TestSuggestReturnsRankedCandidates(t *testing.T) {
	e, mock, cleanup := createTestEngine(t)
	defer cleanup()
	ctx := context.Background()

	mock.SetResponse("Product Sales", []service.Judgment{
		{TargetID: "revenue.service", Confidence: 0.40, Rationale: "weak"},
		{TargetID: "revenue.product", Confidence: 0.92, Rationale: "strong"},
	})

	require.NoError(t, e.IngestLineItems(ctx, "eng-1", []model.SourceLineItem{item("L1", "Product Sales")}))

	candidates, record, err := e.Suggest(ctx, "eng-1", "L1")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "revenue.product", candidates[0].TargetID)
	assert.Equal(t, "revenue.product", record.TargetID)
}

func TestSuggestUnknownLineItem(t *testing.T) {
	e, _, cleanup := createTestEngine(t)
	defer cleanup()

	_, _, err := e.Suggest(context.Background(), "eng-1", "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestLoadAccountsRejectsDuplicates(t *testing.T) {
	e, _, cleanup := createTestEngine(t)
	defer cleanup()

	dupes := []model.CanonicalAccount{
		{ID: "revenue.product", Name: "A", Category: model.CategoryRevenue},
		{ID: "revenue.product", Name: "B", Category: model.CategoryRevenue},
	}
	err := e.LoadAccounts(context.Background(), dupes)
	assert.ErrorIs(t, err, common.ErrDuplicateAccountID)
}

func TestLoadAccountsFlushesSuggestionCache(t *testing.T) {
	e, mock, cleanup := createTestEngine(t)
	defer cleanup()
	ctx := context.Background()

	mock.SetResponse("Product Sales", []service.Judgment{
		{TargetID: "revenue.product", Confidence: 0.95, Rationale: "clear match"},
	})

	require.NoError(t, e.IngestLineItems(ctx, "eng-1", []model.SourceLineItem{item("L1", "Product Sales")}))
	_, err := e.ScoreEngagement(ctx, "eng-1")
	require.NoError(t, err)
	callsBefore := len(mock.Calls())

	// Reloading the taxonomy must drop cached suggestions; they were
	// validated against the old index.
	require.NoError(t, e.LoadAccounts(ctx, testAccounts()))

	_, err = e.ScoreEngagement(ctx, "eng-1")
	require.NoError(t, err)
	assert.Len(t, mock.Calls(), callsBefore+1, "re-score after account reload must reach the collaborator")
}

func TestLedgerIsSharedPerEngagement(t *testing.T) {
	e, _, cleanup := createTestEngine(t)
	defer cleanup()

	a, err := e.Ledger("eng-1")
	require.NoError(t, err)
	b, err := e.Ledger("eng-1")
	require.NoError(t, err)
	assert.Same(t, a, b)

	other, err := e.Ledger("eng-2")
	require.NoError(t, err)
	assert.NotSame(t, a, other)
}
