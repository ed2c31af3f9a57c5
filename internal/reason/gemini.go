package reason

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/valuebench/coamap/internal/common"
	"github.com/valuebench/coamap/internal/model"
	"github.com/valuebench/coamap/internal/service"
)

// geminiCollaborator judges mappings with a Gemini model via the genai SDK.
type geminiCollaborator struct {
	client  *genai.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	model   string
}

func newGeminiCollaborator(ctx context.Context, cfg Config, logger *slog.Logger) (*geminiCollaborator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key", common.ErrMissingConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}

	rpm := cfg.RateLimit
	if rpm <= 0 {
		rpm = 60
	}

	return &geminiCollaborator{
		client:  client,
		model:   modelName,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm),
	}, nil
}

// Judge asks the model to rate every candidate account for the given label.
// Transport failures surface as ErrScoringUnavailable so callers can degrade
// to leaving the item unscored instead of failing the whole ingestion.
func (g *geminiCollaborator) Judge(ctx context.Context, label string, accounts []model.CanonicalAccount) ([]service.Judgment, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	prompt := buildJudgePrompt(label, accounts)

	g.logger.Debug("requesting mapping judgment",
		"label", label,
		"candidate_count", len(accounts),
		"model", g.model)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0.1)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrScoringUnavailable, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: empty model response", common.ErrScoringUnavailable)
	}

	judgments, err := parseJudgments(resp.Candidates[0].Content.Parts[0].Text)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("judgment received", "label", label, "judgment_count", len(judgments))

	return judgments, nil
}

// Close releases the collaborator's resources.
func (g *geminiCollaborator) Close() error {
	return nil
}

// buildJudgePrompt creates the mapping judgment prompt. The candidate list is
// already narrowed to top-K by the scorer before it reaches this point.
func buildJudgePrompt(label string, accounts []model.CanonicalAccount) string {
	var accountList strings.Builder
	for _, account := range accounts {
		accountList.WriteString(fmt.Sprintf("- %s: %s (%s)", account.ID, account.Name, account.Category))
		if len(account.Synonyms) > 0 {
			accountList.WriteString(fmt.Sprintf(" [also known as: %s]", strings.Join(account.Synonyms, ", ")))
		}
		accountList.WriteString("\n")
	}

	return fmt.Sprintf(`You are an expert accountant mapping financial statement line items to a canonical chart of accounts.

SOURCE LINE ITEM:
%s

CANDIDATE CANONICAL ACCOUNTS:
%s
Instructions:
1. Rate how well EACH candidate account fits this line item with a confidence score from 0.0 to 1.0
2. Confidence guide: above 0.9 means near-certain, 0.7 to 0.9 means plausible but needs review, below 0.7 means weak
3. Give one sentence of reasoning per candidate
4. Only use target_id values from the candidate list above

Return ONLY a valid JSON array with this exact structure, no extra text:
[
  {"target_id": "candidate account id", "confidence": 0.95, "rationale": "why this mapping fits"}
]`,
		label,
		accountList.String())
}
