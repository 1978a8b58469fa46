// internal/tokens/postgres.go
package tokens

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool abstracts pgxpool.Pool so the ledger can be tested with pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	sqlCreateAccounts = `
        CREATE TABLE IF NOT EXISTS token_accounts (
            account   TEXT PRIMARY KEY,
            remaining BIGINT NOT NULL
        );`
	sqlCreateUsage = `
        CREATE TABLE IF NOT EXISTS token_usage (
            id          BIGSERIAL PRIMARY KEY,
            account     TEXT NOT NULL REFERENCES token_accounts(account),
            model       TEXT NOT NULL,
            agent_id    TEXT NOT NULL,
            tokens      BIGINT NOT NULL,
            consumed_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );`
	sqlSeedAccount = `
        INSERT INTO token_accounts (account, remaining)
        VALUES ($1, $2)
        ON CONFLICT (account) DO NOTHING;`
	sqlSelectRemaining = `SELECT remaining FROM token_accounts WHERE account = $1;`
	sqlDebit           = `
        UPDATE token_accounts SET remaining = remaining - $2
        WHERE account = $1 AND remaining >= $2
        RETURNING remaining;`
	sqlInsertUsage = `
        INSERT INTO token_usage (account, model, agent_id, tokens)
        VALUES ($1, $2, $3, $4);`
)

// PostgresLedger persists the token balance so it survives restarts and is shared between processes.
type PostgresLedger struct {
	pool    DBPool
	account string
	costs   CostTable
	log     *zap.Logger
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger verifies the connection, creates the tables and seeds the account with budget
// if it does not exist yet.
func NewPostgresLedger(ctx context.Context, pool DBPool, account string, budget int64, costs CostTable, logger *zap.Logger) (*PostgresLedger, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for _, stmt := range []string{sqlCreateAccounts, sqlCreateUsage} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create token ledger schema: %w", err)
		}
	}
	if _, err := pool.Exec(ctx, sqlSeedAccount, account, budget); err != nil {
		return nil, fmt.Errorf("failed to seed token account '%s': %w", account, err)
	}
	return &PostgresLedger{
		pool:    pool,
		account: account,
		costs:   costs,
		log:     logger.Named("token_ledger.postgres").With(zap.String("account", account)),
	}, nil
}

func (l *PostgresLedger) HasTokens(ctx context.Context, model string) (bool, error) {
	remaining, err := l.RemainingTokens(ctx)
	if err != nil {
		return false, err
	}
	return remaining >= l.costs.Cost(model), nil
}

func (l *PostgresLedger) RemainingTokens(ctx context.Context) (int64, error) {
	var remaining int64
	if err := l.pool.QueryRow(ctx, sqlSelectRemaining, l.account).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("failed to read token balance: %w", err)
	}
	return remaining, nil
}

func (l *PostgresLedger) TokenCost(model string) int64 { return l.costs.Cost(model) }

// ConsumeTokens debits the account and records the usage row in one transaction.
func (l *PostgresLedger) ConsumeTokens(ctx context.Context, model, agentID string) (ConsumeResult, error) {
	cost := l.costs.Cost(model)

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			l.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	var remaining int64
	err = tx.QueryRow(ctx, sqlDebit, l.account, cost).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		// Insufficient balance: nothing was debited.
		if err := tx.QueryRow(ctx, sqlSelectRemaining, l.account).Scan(&remaining); err != nil {
			return ConsumeResult{}, fmt.Errorf("failed to read token balance: %w", err)
		}
		return ConsumeResult{Success: false, Remaining: remaining}, nil
	}
	if err != nil {
		return ConsumeResult{}, fmt.Errorf("failed to debit tokens: %w", err)
	}

	if _, err := tx.Exec(ctx, sqlInsertUsage, l.account, model, agentID, cost); err != nil {
		return ConsumeResult{}, fmt.Errorf("failed to record token usage: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ConsumeResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	l.log.Debug("Tokens consumed.", zap.String("model", model), zap.String("agent_id", agentID), zap.Int64("remaining", remaining))
	return ConsumeResult{Success: true, Remaining: remaining}, nil
}
