package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/port"

	"github.com/shopspring/decimal"
)

// tsLayout is fixed width so stored timestamps sort lexically.
const tsLayout = "2006-01-02 15:04:05.000000"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txStore implements port.Tx over either an open transaction or the bare
// database handle (read-only views).
type txStore struct {
	q   querier
	now func() time.Time
}

var _ port.Tx = (*txStore)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.ParseInLocation(tsLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: %w", s, err)
	}
	return t, nil
}

// ============================================================
// Accounts
// ============================================================

func (t *txStore) EnsureUser(ctx context.Context, userID string) error {
	if _, err := t.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)`,
		userID, formatTS(t.now())); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	if _, err := t.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO accounts (user_id, balance) VALUES (?, '0')`, userID); err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

// LockAccount reads the account row. The surrounding IMMEDIATE transaction
// already holds the database write lock.
func (t *txStore) LockAccount(ctx context.Context, userID string) (*domain.Account, error) {
	acc := domain.Account{UserID: userID}
	err := t.q.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&acc.Balance)
	if err == sql.ErrNoRows {
		return nil, &domain.ErrNotFound{Resource: "account", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("read account: %w", err)
	}
	return &acc, nil
}

func (t *txStore) AddToAccount(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error) {
	acc, err := t.LockAccount(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	balance := acc.Balance.Add(delta)
	if _, err := t.q.ExecContext(ctx,
		`UPDATE accounts SET balance = ? WHERE user_id = ?`, balance.String(), userID); err != nil {
		return decimal.Zero, fmt.Errorf("update account: %w", err)
	}
	return balance, nil
}
