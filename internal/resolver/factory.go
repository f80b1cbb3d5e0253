package resolver

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
)

// New builds the resolver selected by resolver.backend.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.SelectorResolver, error) {
	rules := NewRuleResolver(logger, DefaultSignatures())

	switch strings.ToLower(cfg.Resolver.Backend) {
	case "", "rules":
		return rules, nil
	case "llm":
		gen, err := NewGeminiGenerator(ctx, cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM resolver: %w", err)
		}
		logger.Info("Using LLM selector resolver.", zap.String("model", cfg.LLM.Model))
		return NewLLMResolver(gen, rules, cfg.LLM.MaxSnapshotBytes, logger), nil
	default:
		return nil, fmt.Errorf("unknown resolver backend %q", cfg.Resolver.Backend)
	}
}
