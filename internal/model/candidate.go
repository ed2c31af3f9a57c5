package model

import (
	"fmt"
	"sort"
)

// MappingCandidate is one proposed mapping from a source line item to a
// canonical account, as judged by the reasoning collaborator.
type MappingCandidate struct {
	SourceID   string
	TargetID   string
	TargetName string
	Rationale  string
	Confidence float64
}

// Validate ensures the candidate carries a well-formed judgment.
func (c *MappingCandidate) Validate() error {
	if c.TargetID == "" {
		return fmt.Errorf("target id is required")
	}

	if c.Confidence < 0.0 || c.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %.2f", c.Confidence)
	}

	return nil
}

// Candidates is an ordered list of mapping candidates with utility methods.
type Candidates []MappingCandidate

// Len implements sort.Interface.
func (c Candidates) Len() int {
	return len(c)
}

// Less implements sort.Interface - higher confidence comes first, ties are
// broken by target id so ordering is deterministic.
func (c Candidates) Less(i, j int) bool {
	if c[i].Confidence != c[j].Confidence {
		return c[i].Confidence > c[j].Confidence
	}
	return c[i].TargetID < c[j].TargetID
}

// Swap implements sort.Interface.
func (c Candidates) Swap(i, j int) {
	c[i], c[j] = c[j], c[i]
}

// Sort orders the candidates by confidence descending.
func (c Candidates) Sort() {
	sort.Sort(c)
}

// Top returns the highest-confidence candidate, or nil if empty.
func (c Candidates) Top() *MappingCandidate {
	if len(c) == 0 {
		return nil
	}
	c.Sort()
	return &c[0]
}

// Validate ensures every candidate in the list is valid and targets are unique.
func (c Candidates) Validate() error {
	seen := make(map[string]bool)

	for i, candidate := range c {
		if err := candidate.Validate(); err != nil {
			return fmt.Errorf("invalid candidate at index %d: %w", i, err)
		}

		if seen[candidate.TargetID] {
			return fmt.Errorf("duplicate target %q in candidates", candidate.TargetID)
		}
		seen[candidate.TargetID] = true
	}

	return nil
}
