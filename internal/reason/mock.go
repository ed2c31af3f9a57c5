package reason

import (
	"context"
	"strings"
	"sync"

	"github.com/valuebench/coamap/internal/model"
	"github.com/valuebench/coamap/internal/service"
)

// MockCollaborator is a deterministic Collaborator implementation used in
// tests and for offline runs. With no canned responses configured it judges
// every candidate by plain label/name token overlap.
type MockCollaborator struct {
	responses map[string][]service.Judgment
	err       error
	calls     []MockCall
	mu        sync.Mutex
}

// MockCall records one judgment request.
type MockCall struct {
	Label    string
	Accounts []model.CanonicalAccount
}

// NewMockCollaborator creates a mock with no canned responses.
func NewMockCollaborator() *MockCollaborator {
	return &MockCollaborator{
		responses: make(map[string][]service.Judgment),
	}
}

// SetResponse registers the judgments to return for a given label.
func (m *MockCollaborator) SetResponse(label string, judgments []service.Judgment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[label] = judgments
}

// SetError makes every subsequent Judge call fail with the given error.
func (m *MockCollaborator) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns a copy of the recorded judgment requests.
func (m *MockCollaborator) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]MockCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// Judge returns the canned response for the label, or a token-overlap
// judgment of every candidate if none was registered.
func (m *MockCollaborator) Judge(ctx context.Context, label string, accounts []model.CanonicalAccount) ([]service.Judgment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{Label: label, Accounts: accounts})

	if m.err != nil {
		return nil, m.err
	}

	if judgments, ok := m.responses[label]; ok {
		return judgments, nil
	}

	judgments := make([]service.Judgment, 0, len(accounts))
	for _, account := range accounts {
		judgments = append(judgments, service.Judgment{
			TargetID:   account.ID,
			Confidence: overlapScore(label, account.Name),
			Rationale:  "token overlap with " + account.Name,
		})
	}

	return judgments, nil
}

// Close implements service.Collaborator.
func (m *MockCollaborator) Close() error {
	return nil
}

func fields(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(s)) {
		tokens[field] = true
	}
	return tokens
}

func overlapScore(label, name string) float64 {
	labelTokens := fields(label)
	nameTokens := fields(name)
	if len(nameTokens) == 0 {
		return 0
	}

	matched := 0
	for token := range nameTokens {
		if labelTokens[token] {
			matched++
		}
	}

	return float64(matched) / float64(len(nameTokens))
}
