package tokens

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// newMockPool monitors pings so ExpectPing can script the ledger's
// connectivity check.
func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func expectSchema(mock pgxmock.PgxPoolIface, account string, budget int64) {
	mock.ExpectPing()
	mock.ExpectExec(flexibleSQLMatcher(sqlCreateAccounts)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(flexibleSQLMatcher(sqlCreateUsage)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(flexibleSQLMatcher(sqlSeedAccount)).
		WithArgs(account, budget).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func TestNewPostgresLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("propagates ping failure", func(t *testing.T) {
		mock := newMockPool(t)

		pingErr := errors.New("database unavailable")
		mock.ExpectPing().WillReturnError(pingErr)

		_, err := NewPostgresLedger(ctx, mock, "default", 100, testCosts(), zap.NewNop())
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("creates schema and seeds account", func(t *testing.T) {
		mock := newMockPool(t)

		expectSchema(mock, "team-a", 500)
		_, err := NewPostgresLedger(ctx, mock, "team-a", 500, testCosts(), zap.NewNop())
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresLedger_HasTokens(t *testing.T) {
	ctx := context.Background()
	mock := newMockPool(t)

	expectSchema(mock, "default", 100)
	l, err := NewPostgresLedger(ctx, mock, "default", 100, testCosts(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectQuery(flexibleSQLMatcher(sqlSelectRemaining)).
		WithArgs("default").
		WillReturnRows(pgxmock.NewRows([]string{"remaining"}).AddRow(int64(20)))

	ok, err := l.HasTokens(ctx, "gemini-pro")
	require.NoError(t, err)
	assert.False(t, ok, "20 remaining cannot cover a cost of 25")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_ConsumeTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("debits and records usage in one transaction", func(t *testing.T) {
		mock := newMockPool(t)

		observedCore, observedLogs := observer.New(zapcore.ErrorLevel)
		expectSchema(mock, "default", 100)
		l, err := NewPostgresLedger(ctx, mock, "default", 100, testCosts(), zap.New(observedCore))
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectQuery(flexibleSQLMatcher(sqlDebit)).
			WithArgs("default", int64(25)).
			WillReturnRows(pgxmock.NewRows([]string{"remaining"}).AddRow(int64(75)))
		mock.ExpectExec(flexibleSQLMatcher(sqlInsertUsage)).
			WithArgs("default", "gemini-pro", "planner", int64(25)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()
		mock.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		res, err := l.ConsumeTokens(ctx, "gemini-pro", "planner")
		require.NoError(t, err)
		assert.Equal(t, ConsumeResult{Success: true, Remaining: 75}, res)
		assert.Zero(t, observedLogs.Len(), "rollback after commit must not be logged")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance debits nothing", func(t *testing.T) {
		mock := newMockPool(t)

		expectSchema(mock, "default", 100)
		l, err := NewPostgresLedger(ctx, mock, "default", 100, testCosts(), zap.NewNop())
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectQuery(flexibleSQLMatcher(sqlDebit)).
			WithArgs("default", int64(10)).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(flexibleSQLMatcher(sqlSelectRemaining)).
			WithArgs("default").
			WillReturnRows(pgxmock.NewRows([]string{"remaining"}).AddRow(int64(4)))
		mock.ExpectRollback()

		res, err := l.ConsumeTokens(ctx, "other-model", "validator")
		require.NoError(t, err)
		assert.Equal(t, ConsumeResult{Success: false, Remaining: 4}, res)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("usage insert failure rolls back", func(t *testing.T) {
		mock := newMockPool(t)

		expectSchema(mock, "default", 100)
		l, err := NewPostgresLedger(ctx, mock, "default", 100, testCosts(), zap.NewNop())
		require.NoError(t, err)

		insertErr := errors.New("disk full")
		mock.ExpectBegin()
		mock.ExpectQuery(flexibleSQLMatcher(sqlDebit)).
			WithArgs("default", int64(10)).
			WillReturnRows(pgxmock.NewRows([]string{"remaining"}).AddRow(int64(90)))
		mock.ExpectExec(flexibleSQLMatcher(sqlInsertUsage)).
			WithArgs("default", "m", "navigator", int64(10)).
			WillReturnError(insertErr)
		mock.ExpectRollback()

		_, err = l.ConsumeTokens(ctx, "m", "navigator")
		assert.ErrorIs(t, err, insertErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
