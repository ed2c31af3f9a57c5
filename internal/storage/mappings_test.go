package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/valuebench/coamap/internal/common"
	"github.com/valuebench/coamap/internal/model"
	"github.com/valuebench/coamap/internal/service"
)

// createTestStorage creates an in-memory database with migrations applied.
func createTestStorage(t *testing.T) (*SQLiteStorage, func()) {
	t.Helper()

	store, err := NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test storage: %v", err)
	}

	return store, func() { _ = store.Close() }
}

func pendingRecord(sourceID, targetID string, confidence float64) *model.MappingRecord {
	return &model.MappingRecord{
		SourceID:   sourceID,
		SourceName: "Some Label",
		TargetID:   targetID,
		TargetName: "Some Account",
		Confidence: confidence,
		Rationale:  "test rationale",
		Status:     model.StatusPending,
	}
}

func TestUpsertAndGetMapping(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	record := pendingRecord("L1", "revenue.product", 0.92)
	if err := store.UpsertMapping(ctx, "eng-1", record); err != nil {
		t.Fatalf("UpsertMapping failed: %v", err)
	}

	got, err := store.GetMapping(ctx, "eng-1", "L1")
	if err != nil {
		t.Fatalf("GetMapping failed: %v", err)
	}

	if got.TargetID != "revenue.product" {
		t.Errorf("TargetID = %q, want revenue.product", got.TargetID)
	}
	if got.Confidence != 0.92 {
		t.Errorf("Confidence = %v, want 0.92", got.Confidence)
	}
	if got.Status != model.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.Generation != 1 {
		t.Errorf("Generation = %d, want 1", got.Generation)
	}
}

func TestGetMappingNotFound(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	_, err := store.GetMapping(context.Background(), "eng-1", "missing")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("GetMapping(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpsertMappingReplacesFields(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.UpsertMapping(ctx, "eng-1", pendingRecord("L1", "revenue.product", 0.6)); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := store.UpsertMapping(ctx, "eng-1", pendingRecord("L1", "revenue.service", 0.8)); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, err := store.GetMapping(ctx, "eng-1", "L1")
	if err != nil {
		t.Fatalf("GetMapping failed: %v", err)
	}
	if got.TargetID != "revenue.service" || got.Confidence != 0.8 {
		t.Errorf("record not replaced: target=%q confidence=%v", got.TargetID, got.Confidence)
	}
}

func TestUpsertMappingRejectsInvalidRecords(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	bad := pendingRecord("L1", "revenue.product", 1.5)
	if err := store.UpsertMapping(ctx, "eng-1", bad); err == nil {
		t.Error("UpsertMapping accepted out-of-range confidence")
	}

	bad = pendingRecord("L2", "revenue.product", 0.5)
	bad.Status = "maybe"
	if err := store.UpsertMapping(ctx, "eng-1", bad); err == nil {
		t.Error("UpsertMapping accepted unknown status")
	}
}

func TestListMappingsFiltersByStatus(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	approved := pendingRecord("L1", "revenue.product", 0.95)
	approved.Status = model.StatusApproved
	now := time.Now().UTC()
	approved.DecidedAt = &now
	approved.DecidedBy = "analyst@example.com"

	if err := store.UpsertMapping(ctx, "eng-1", approved); err != nil {
		t.Fatalf("upsert approved failed: %v", err)
	}
	if err := store.UpsertMapping(ctx, "eng-1", pendingRecord("L2", "cogs.materials", 0.7)); err != nil {
		t.Fatalf("upsert pending failed: %v", err)
	}

	all, err := store.ListMappings(ctx, "eng-1", service.MappingFilter{})
	if err != nil {
		t.Fatalf("ListMappings failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListMappings returned %d records, want 2", len(all))
	}

	pending, err := store.ListMappings(ctx, "eng-1", service.MappingFilter{Status: model.StatusPending})
	if err != nil {
		t.Fatalf("ListMappings(pending) failed: %v", err)
	}
	if len(pending) != 1 || pending[0].SourceID != "L2" {
		t.Errorf("pending filter returned %+v", pending)
	}
}

func TestListMappingsIsolatesEngagements(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.UpsertMapping(ctx, "eng-1", pendingRecord("L1", "revenue.product", 0.9)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.UpsertMapping(ctx, "eng-2", pendingRecord("L1", "cogs.materials", 0.5)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	records, err := store.ListMappings(ctx, "eng-2", service.MappingFilter{})
	if err != nil {
		t.Fatalf("ListMappings failed: %v", err)
	}
	if len(records) != 1 || records[0].TargetID != "cogs.materials" {
		t.Errorf("engagement isolation broken: %+v", records)
	}
}

func TestBeginGenerationHidesOldRecords(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.UpsertMapping(ctx, "eng-1", pendingRecord("L1", "revenue.product", 0.9)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	generation, err := store.BeginGeneration(ctx, "eng-1")
	if err != nil {
		t.Fatalf("BeginGeneration failed: %v", err)
	}
	if generation != 2 {
		t.Errorf("BeginGeneration = %d, want 2", generation)
	}

	// Old generation's record is no longer visible...
	if _, err := store.GetMapping(ctx, "eng-1", "L1"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("old-generation record still visible, err = %v", err)
	}

	// ...and a fresh record for the same source id lands in the new one.
	if err := store.UpsertMapping(ctx, "eng-1", pendingRecord("L1", "revenue.service", 0.4)); err != nil {
		t.Fatalf("upsert after new generation failed: %v", err)
	}

	got, err := store.GetMapping(ctx, "eng-1", "L1")
	if err != nil {
		t.Fatalf("GetMapping failed: %v", err)
	}
	if got.Generation != 2 || got.TargetID != "revenue.service" {
		t.Errorf("new generation record = %+v", got)
	}
}

func TestRecordDecisionAppendsHistory(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	record := pendingRecord("L1", "revenue.product", 0.95)
	if err := store.UpsertMapping(ctx, "eng-1", record); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	record.DecidedBy = "analyst@example.com"
	if err := store.RecordDecision(ctx, "eng-1", record, model.DecisionApprove); err != nil {
		t.Fatalf("RecordDecision failed: %v", err)
	}
	if err := store.RecordDecision(ctx, "eng-1", record, model.DecisionApprove); err != nil {
		t.Fatalf("second RecordDecision failed: %v", err)
	}

	var count int
	err := store.db.QueryRow(
		`SELECT COUNT(*) FROM decision_history WHERE engagement_id = ? AND source_id = ?`,
		"eng-1", "L1",
	).Scan(&count)
	if err != nil {
		t.Fatalf("history query failed: %v", err)
	}
	if count != 2 {
		t.Errorf("history count = %d, want 2", count)
	}
}

func TestSaveAndGetLineItems(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	items := []model.SourceLineItem{
		{ID: "L1", RawLabel: "Total Revenue", RawValue: decimal.RequireFromString("1200000.55"), StatementType: model.StatementIncome},
		{ID: "L2", RawLabel: "Accounts Payable", RawValue: decimal.RequireFromString("-300.10"), StatementType: model.StatementBalance},
	}

	if err := store.SaveLineItems(ctx, "eng-1", items); err != nil {
		t.Fatalf("SaveLineItems failed: %v", err)
	}

	got, err := store.GetLineItems(ctx, "eng-1")
	if err != nil {
		t.Fatalf("GetLineItems failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetLineItems returned %d items, want 2", len(got))
	}
	if !got[0].RawValue.Equal(decimal.RequireFromString("1200000.55")) {
		t.Errorf("RawValue round-trip lost precision: %s", got[0].RawValue)
	}
	if got[1].StatementType != model.StatementBalance {
		t.Errorf("StatementType = %q", got[1].StatementType)
	}
}
