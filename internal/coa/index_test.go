package coa

import (
	"errors"
	"testing"

	"github.com/valuebench/coamap/internal/common"
	"github.com/valuebench/coamap/internal/model"
)

func testAccounts() []model.CanonicalAccount {
	return []model.CanonicalAccount{
		{ID: "revenue.product", Name: "Product Revenue", Category: model.CategoryRevenue, Synonyms: []string{"Sales", "Product Sales"}},
		{ID: "revenue.service", Name: "Service Revenue", Category: model.CategoryRevenue, Synonyms: []string{"Consulting Revenue"}},
		{ID: "cogs.materials", Name: "Direct Materials", Category: model.CategoryCOGS},
		{ID: "opex.rd", Name: "Research & Development", Category: model.CategoryOpEx, Synonyms: []string{"R&D Expense"}},
		{ID: "opex.ga", Name: "General & Administrative", Category: model.CategoryOpEx, Synonyms: []string{"G&A"}},
	}
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	accounts := testAccounts()
	accounts = append(accounts, model.CanonicalAccount{ID: "revenue.product", Name: "Duplicate"})

	_, err := Load(accounts)
	if err == nil {
		t.Fatal("Load() accepted duplicate account ids")
	}
	if !errors.Is(err, common.ErrDuplicateAccountID) {
		t.Errorf("Load() error = %v, want ErrDuplicateAccountID", err)
	}
}

func TestLoadRejectsEmptyID(t *testing.T) {
	_, err := Load([]model.CanonicalAccount{{Name: "No ID"}})
	if err == nil {
		t.Fatal("Load() accepted an account without an id")
	}
}

func TestLookup(t *testing.T) {
	idx, err := Load(testAccounts())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	account, err := idx.Lookup("opex.rd")
	if err != nil {
		t.Fatalf("Lookup(opex.rd) failed: %v", err)
	}
	if account.Name != "Research & Development" {
		t.Errorf("Lookup(opex.rd).Name = %q", account.Name)
	}

	_, err = idx.Lookup("opex.imaginary")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Lookup(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestSearchRanksByLabelSimilarity(t *testing.T) {
	idx, err := Load(testAccounts())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	tests := []struct {
		label     string
		wantFirst string
	}{
		{"Product Revenue", "revenue.product"},
		{"Total Product Sales", "revenue.product"}, // via synonym containment
		{"Consulting Revenue", "revenue.service"},
		{"Research and Development", "opex.rd"},
	}

	for _, tt := range tests {
		results := idx.Search(tt.label)
		if len(results) == 0 {
			t.Errorf("Search(%q) returned no results", tt.label)
			continue
		}
		if results[0].ID != tt.wantFirst {
			t.Errorf("Search(%q)[0] = %q, want %q", tt.label, results[0].ID, tt.wantFirst)
		}
	}
}

func TestSearchIsDeterministic(t *testing.T) {
	idx, err := Load(testAccounts())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	first := idx.Search("revenue")
	for i := 0; i < 5; i++ {
		again := idx.Search("revenue")
		if len(again) != len(first) {
			t.Fatalf("Search() result count changed between runs")
		}
		for j := range first {
			if again[j].ID != first[j].ID {
				t.Fatalf("Search() ordering changed between runs at position %d", j)
			}
		}
	}
}

func TestTopKBoundsResults(t *testing.T) {
	idx, err := Load(testAccounts())
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	results := idx.TopK("revenue", 1)
	if len(results) != 1 {
		t.Errorf("TopK(revenue, 1) returned %d results", len(results))
	}

	// Non-positive k means no cap.
	all := idx.TopK("revenue", 0)
	if len(all) != len(idx.Search("revenue")) {
		t.Errorf("TopK(revenue, 0) should not cap results")
	}
}
