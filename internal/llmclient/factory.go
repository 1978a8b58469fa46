// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/tokens"
)

// NewProvider creates the adapter for the configured provider family.
func NewProvider(ctx context.Context, cfg config.LLMModelConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg, logger)
	case config.ProviderOpenAI, config.ProviderOllama:
		return NewOpenAIClient(cfg, logger)
	case "":
		return nil, fmt.Errorf("LLM provider is not set for model '%s'", cfg.Model)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI, config.ProviderOllama)
	}
}

// Roles holds the invoker used by each agent.
type Roles struct {
	Planner   *Invoker
	Navigator *Invoker
	Validator *Invoker
}

// NewRoles builds one invoker per agent role. Roles that name the same model entry
// share its provider and rate limiter.
func NewRoles(ctx context.Context, cfg config.LLMConfig, ledger tokens.Ledger, logger *zap.Logger) (Roles, error) {
	built := make(map[string]*Invoker)
	build := func(entry string) (*Invoker, error) {
		if inv, ok := built[entry]; ok {
			return inv, nil
		}
		modelCfg, ok := cfg.Models[entry]
		if !ok {
			return nil, fmt.Errorf("llm model '%s' is not defined in llm.models", entry)
		}
		provider, err := NewProvider(ctx, modelCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize model '%s': %w", entry, err)
		}
		inv := NewInvoker(entry, provider, ledger, modelCfg.RequestsPerMinute, logger)
		built[entry] = inv
		return inv, nil
	}

	var roles Roles
	var err error
	if roles.Planner, err = build(cfg.PlannerModel); err != nil {
		return Roles{}, err
	}
	if roles.Navigator, err = build(cfg.NavigatorModel); err != nil {
		return Roles{}, err
	}
	if roles.Validator, err = build(cfg.ValidatorModel); err != nil {
		return Roles{}, err
	}
	return roles, nil
}
