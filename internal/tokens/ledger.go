// internal/tokens/ledger.go
package tokens

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/config"
)

// ConsumeResult reports the outcome of a consumption request.
type ConsumeResult struct {
	Success   bool
	Remaining int64
}

// Ledger tracks token consumption per model invocation. Callers check HasTokens
// before invoking a model and call ConsumeTokens once after a successful invocation.
type Ledger interface {
	HasTokens(ctx context.Context, model string) (bool, error)
	RemainingTokens(ctx context.Context) (int64, error)
	TokenCost(model string) int64
	ConsumeTokens(ctx context.Context, model, agentID string) (ConsumeResult, error)
}

// CostTable prices one invocation of each model entry.
type CostTable struct {
	Default int64
	Costs   map[string]int64
}

// NewCostTable builds a cost table from configuration.
func NewCostTable(cfg config.TokensConfig) CostTable {
	costs := make(map[string]int64, len(cfg.Costs))
	for k, v := range cfg.Costs {
		costs[k] = v
	}
	return CostTable{Default: cfg.DefaultCost, Costs: costs}
}

// Cost returns the price of one invocation of model.
func (c CostTable) Cost(model string) int64 {
	if v, ok := c.Costs[model]; ok {
		return v
	}
	return c.Default
}

// MemoryLedger is a process-local ledger.
type MemoryLedger struct {
	mu        sync.Mutex
	costs     CostTable
	remaining int64
	usage     map[string]int64 // agentID -> tokens consumed
	logger    *zap.Logger
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates a ledger holding budget tokens.
func NewMemoryLedger(budget int64, costs CostTable, logger *zap.Logger) *MemoryLedger {
	return &MemoryLedger{
		costs:     costs,
		remaining: budget,
		usage:     make(map[string]int64),
		logger:    logger.Named("token_ledger"),
	}
}

func (l *MemoryLedger) HasTokens(_ context.Context, model string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining >= l.costs.Cost(model), nil
}

func (l *MemoryLedger) RemainingTokens(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining, nil
}

func (l *MemoryLedger) TokenCost(model string) int64 { return l.costs.Cost(model) }

func (l *MemoryLedger) ConsumeTokens(_ context.Context, model, agentID string) (ConsumeResult, error) {
	cost := l.costs.Cost(model)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remaining < cost {
		return ConsumeResult{Success: false, Remaining: l.remaining}, nil
	}
	l.remaining -= cost
	l.usage[agentID] += cost

	l.logger.Debug("Tokens consumed.",
		zap.String("model", model),
		zap.String("agent_id", agentID),
		zap.Int64("cost", cost),
		zap.Int64("remaining", l.remaining))
	return ConsumeResult{Success: true, Remaining: l.remaining}, nil
}

// Usage returns the tokens consumed by agentID.
func (l *MemoryLedger) Usage(agentID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage[agentID]
}

// NewLedger builds the ledger selected by cfg.Backend. The caller owns pool for the postgres backend.
func NewLedger(ctx context.Context, cfg config.TokensConfig, pool DBPool, logger *zap.Logger) (Ledger, error) {
	costs := NewCostTable(cfg)
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryLedger(cfg.Budget, costs, logger), nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("postgres token ledger requires a database pool")
		}
		return NewPostgresLedger(ctx, pool, cfg.Account, cfg.Budget, costs, logger)
	default:
		return nil, fmt.Errorf("unknown token ledger backend: '%s'", cfg.Backend)
	}
}
