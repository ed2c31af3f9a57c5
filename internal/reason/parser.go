package reason

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/valuebench/coamap/internal/common"
	"github.com/valuebench/coamap/internal/service"
)

// rawJudgment mirrors the JSON shape the collaborator is asked to return.
// Confidence is a pointer so a missing field is distinguishable from 0.0.
type rawJudgment struct {
	Confidence *float64 `json:"confidence"`
	TargetID   string   `json:"target_id"`
	Rationale  string   `json:"rationale"`
}

// parseJudgments decodes the collaborator's response text into judgments.
// The payload is untrusted: malformed JSON or missing fields are a contract
// violation, not something to paper over.
func parseJudgments(text string) ([]service.Judgment, error) {
	cleaned := stripCodeFence(text)

	var raw []rawJudgment
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("%w: response is not a JSON judgment array: %v", common.ErrScorerContract, err)
	}

	judgments := make([]service.Judgment, 0, len(raw))
	for i, r := range raw {
		if r.TargetID == "" {
			return nil, fmt.Errorf("%w: judgment %d is missing target_id", common.ErrScorerContract, i)
		}
		if r.Confidence == nil {
			return nil, fmt.Errorf("%w: judgment %d is missing confidence", common.ErrScorerContract, i)
		}

		judgments = append(judgments, service.Judgment{
			TargetID:   r.TargetID,
			Confidence: *r.Confidence,
			Rationale:  r.Rationale,
		})
	}

	return judgments, nil
}

// stripCodeFence removes a surrounding markdown code fence if the model
// wrapped its JSON in one.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)

	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimPrefix(trimmed, "json")
	if end := strings.LastIndex(trimmed, "```"); end >= 0 {
		trimmed = trimmed[:end]
	}

	return strings.TrimSpace(trimmed)
}
