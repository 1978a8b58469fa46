package tokens

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/config"
)

func testCosts() CostTable {
	return CostTable{Default: 10, Costs: map[string]int64{"gemini-pro": 25, "local": 0}}
}

func TestCostTable(t *testing.T) {
	c := NewCostTable(config.TokensConfig{DefaultCost: 7, Costs: map[string]int64{"gemini-pro": 30}})
	assert.Equal(t, int64(30), c.Cost("gemini-pro"))
	assert.Equal(t, int64(7), c.Cost("unknown"))
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("consumes the model cost", func(t *testing.T) {
		l := NewMemoryLedger(100, testCosts(), zap.NewNop())

		ok, err := l.HasTokens(ctx, "gemini-pro")
		require.NoError(t, err)
		assert.True(t, ok)

		res, err := l.ConsumeTokens(ctx, "gemini-pro", "planner")
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, int64(75), res.Remaining)
		assert.Equal(t, int64(25), l.Usage("planner"))
	})

	t.Run("refuses when the balance is below the cost", func(t *testing.T) {
		l := NewMemoryLedger(20, testCosts(), zap.NewNop())

		ok, err := l.HasTokens(ctx, "gemini-pro")
		require.NoError(t, err)
		assert.False(t, ok)

		res, err := l.ConsumeTokens(ctx, "gemini-pro", "planner")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, int64(20), res.Remaining)
		assert.Zero(t, l.Usage("planner"))
	})

	t.Run("free models always have tokens", func(t *testing.T) {
		l := NewMemoryLedger(0, testCosts(), zap.NewNop())
		ok, err := l.HasTokens(ctx, "local")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("concurrent consumers never overdraw", func(t *testing.T) {
		l := NewMemoryLedger(100, testCosts(), zap.NewNop())
		var wg sync.WaitGroup
		var mu sync.Mutex
		successes := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := l.ConsumeTokens(ctx, "default", "navigator")
				if err == nil && res.Success {
					mu.Lock()
					successes++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, successes)
		remaining, err := l.RemainingTokens(ctx)
		require.NoError(t, err)
		assert.Zero(t, remaining)
	})
}

func TestNewLedger(t *testing.T) {
	ctx := context.Background()

	l, err := NewLedger(ctx, config.TokensConfig{Backend: "memory", Budget: 5}, nil, zap.NewNop())
	require.NoError(t, err)
	remaining, err := l.RemainingTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), remaining)

	_, err = NewLedger(ctx, config.TokensConfig{Backend: "postgres"}, nil, zap.NewNop())
	assert.ErrorContains(t, err, "requires a database pool")

	_, err = NewLedger(ctx, config.TokensConfig{Backend: "redis"}, nil, zap.NewNop())
	assert.ErrorContains(t, err, "unknown token ledger backend")
}

func TestEstimator(t *testing.T) {
	t.Run("falls back to a character estimate for an unknown encoding", func(t *testing.T) {
		e := NewEstimator("no-such-encoding", zap.NewNop())
		assert.Equal(t, 0, e.Count(""))
		assert.Equal(t, 1, e.Count("abc"))
		assert.Equal(t, 2, e.Count("abcd"))
		// Runes, not bytes.
		assert.Equal(t, 1, e.Count("東京都"))
	})

	t.Run("char estimate rounds up", func(t *testing.T) {
		assert.Equal(t, 1, CharEstimate("a"))
		assert.Equal(t, 4, CharEstimate("0123456789"))
	})
}
