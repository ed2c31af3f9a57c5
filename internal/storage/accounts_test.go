package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/valuebench/coamap/internal/common"
	"github.com/valuebench/coamap/internal/model"
)

func TestSaveAndGetAccounts(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	accounts := []model.CanonicalAccount{
		{ID: "revenue.product", Name: "Product Revenue", Category: model.CategoryRevenue, Synonyms: []string{"sales", "product sales"}},
		{ID: "cogs.materials", Name: "Materials", Category: model.CategoryCOGS},
	}

	if err := store.SaveAccounts(ctx, accounts); err != nil {
		t.Fatalf("SaveAccounts failed: %v", err)
	}

	got, err := store.GetAccounts(ctx)
	if err != nil {
		t.Fatalf("GetAccounts failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetAccounts returned %d accounts, want 2", len(got))
	}

	account, err := store.GetAccountByID(ctx, "revenue.product")
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	if account.Name != "Product Revenue" {
		t.Errorf("Name = %q, want Product Revenue", account.Name)
	}
	if len(account.Synonyms) != 2 || account.Synonyms[0] != "sales" {
		t.Errorf("Synonyms = %v", account.Synonyms)
	}
}

func TestGetAccountByIDNotFound(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()

	_, err := store.GetAccountByID(context.Background(), "missing.account")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("GetAccountByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSaveAccountsUpserts(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	first := []model.CanonicalAccount{{ID: "opex.rd", Name: "R&D", Category: model.CategoryOpEx}}
	if err := store.SaveAccounts(ctx, first); err != nil {
		t.Fatalf("SaveAccounts failed: %v", err)
	}

	renamed := []model.CanonicalAccount{{ID: "opex.rd", Name: "Research & Development", Category: model.CategoryOpEx}}
	if err := store.SaveAccounts(ctx, renamed); err != nil {
		t.Fatalf("second SaveAccounts failed: %v", err)
	}

	got, err := store.GetAccountByID(ctx, "opex.rd")
	if err != nil {
		t.Fatalf("GetAccountByID failed: %v", err)
	}
	if got.Name != "Research & Development" {
		t.Errorf("Name = %q after upsert", got.Name)
	}
}

func TestTransactionRollback(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}

	accounts := []model.CanonicalAccount{{ID: "equity.common", Name: "Common Stock", Category: model.CategoryEquity}}
	if err := tx.SaveAccounts(ctx, accounts); err != nil {
		t.Fatalf("SaveAccounts in tx failed: %v", err)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	if _, err := store.GetAccountByID(ctx, "equity.common"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("rolled-back account is visible, err = %v", err)
	}
}

func TestTransactionCommit(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx failed: %v", err)
	}

	if err := tx.UpsertMapping(ctx, "eng-1", pendingRecord("L1", "revenue.product", 0.9)); err != nil {
		t.Fatalf("UpsertMapping in tx failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if _, err := store.GetMapping(ctx, "eng-1", "L1"); err != nil {
		t.Errorf("committed mapping not visible: %v", err)
	}
}
