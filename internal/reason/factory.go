package reason

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/valuebench/coamap/internal/service"
)

// Config holds configuration for the reasoning collaborator.
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	RateLimit int
}

// New creates a reasoning collaborator for the configured provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (service.Collaborator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch strings.ToLower(cfg.Provider) {
	case "gemini", "":
		return newGeminiCollaborator(ctx, cfg, logger)
	case "mock":
		return NewMockCollaborator(), nil
	default:
		return nil, fmt.Errorf("unsupported reasoning provider: %s", cfg.Provider)
	}
}
