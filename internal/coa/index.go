// Package coa provides the in-memory index over the canonical chart of accounts.
package coa

import (
	"fmt"
	"sort"

	"github.com/valuebench/coamap/internal/common"
	"github.com/valuebench/coamap/internal/model"
)

// Index is an immutable lookup structure over the canonical chart of
// accounts. It is loaded once and treated as read-only for the process
// lifetime, so it is safe for concurrent use without locking.
type Index struct {
	byID  map[string]model.CanonicalAccount
	order []string
}

// Load builds an index from the given accounts. It fails if two accounts
// share an id.
func Load(accounts []model.CanonicalAccount) (*Index, error) {
	idx := &Index{
		byID:  make(map[string]model.CanonicalAccount, len(accounts)),
		order: make([]string, 0, len(accounts)),
	}

	for _, account := range accounts {
		if account.ID == "" {
			return nil, fmt.Errorf("%w: account %q has no id", common.ErrInvalidConfig, account.Name)
		}
		if _, exists := idx.byID[account.ID]; exists {
			return nil, fmt.Errorf("%w: %s", common.ErrDuplicateAccountID, account.ID)
		}
		idx.byID[account.ID] = account
		idx.order = append(idx.order, account.ID)
	}

	sort.Strings(idx.order)

	return idx, nil
}

// Lookup returns the account with the given id. Unknown ids are a hard stop
// for callers, never a default value.
func (idx *Index) Lookup(id string) (model.CanonicalAccount, error) {
	account, ok := idx.byID[id]
	if !ok {
		return model.CanonicalAccount{}, fmt.Errorf("%w: account %q", common.ErrNotFound, id)
	}
	return account, nil
}

// Contains reports whether the given id exists in the index.
func (idx *Index) Contains(id string) bool {
	_, ok := idx.byID[id]
	return ok
}

// Len returns the number of indexed accounts.
func (idx *Index) Len() int {
	return len(idx.byID)
}

// All returns every indexed account ordered by id.
func (idx *Index) All() []model.CanonicalAccount {
	accounts := make([]model.CanonicalAccount, 0, len(idx.order))
	for _, id := range idx.order {
		accounts = append(accounts, idx.byID[id])
	}
	return accounts
}

// Search returns accounts ranked by string similarity of the given text
// against each account's name and synonyms. Ties are broken by account id so
// results are deterministic. Accounts with no measurable similarity are
// omitted.
func (idx *Index) Search(text string) []model.CanonicalAccount {
	type scored struct {
		id    string
		score float64
	}

	matches := make([]scored, 0, len(idx.order))
	for _, id := range idx.order {
		account := idx.byID[id]

		best := similarity(text, account.Name)
		for _, synonym := range account.Synonyms {
			if s := similarity(text, synonym); s > best {
				best = s
			}
		}

		if best > 0 {
			matches = append(matches, scored{id: id, score: best})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].id < matches[j].id
	})

	results := make([]model.CanonicalAccount, len(matches))
	for i, m := range matches {
		results[i] = idx.byID[m.id]
	}
	return results
}

// TopK returns at most k best search matches for the given text. A k of zero
// or less falls back to the full result set.
func (idx *Index) TopK(text string, k int) []model.CanonicalAccount {
	results := idx.Search(text)
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}
