package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// ============================================================
// Pockets
// ============================================================

const pocketCols = `id, user_id, name, balance, created_at`

func scanPocket(row scanner) (*domain.Pocket, error) {
	var p domain.Pocket
	var created string
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Balance, &created); err != nil {
		return nil, err
	}
	ts, err := parseTS(created)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = ts
	return &p, nil
}

func (t *txStore) GetPocket(ctx context.Context, userID, name string) (*domain.Pocket, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+pocketCols+` FROM pockets WHERE user_id = ? AND name_key = ?`,
		userID, domain.NameKey(name))
	p, err := scanPocket(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pocket: %w", err)
	}
	return p, nil
}

func (t *txStore) ListPockets(ctx context.Context, userID string) ([]domain.Pocket, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+pocketCols+` FROM pockets WHERE user_id = ? ORDER BY name_key`, userID)
	if err != nil {
		return nil, fmt.Errorf("list pockets: %w", err)
	}
	defer rows.Close()

	out := []domain.Pocket{}
	for rows.Next() {
		p, err := scanPocket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pocket: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (t *txStore) InsertPocket(ctx context.Context, userID, name string, balance decimal.Decimal) (*domain.Pocket, bool, error) {
	name = domain.CleanName(name)
	res, err := t.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO pockets (user_id, name, name_key, balance, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, name, domain.NameKey(name), balance.String(), formatTS(t.now()))
	if err != nil {
		return nil, false, fmt.Errorf("insert pocket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert pocket: %w", err)
	}
	p, err := t.GetPocket(ctx, userID, name)
	if err != nil {
		return nil, false, err
	}
	if p == nil {
		return nil, false, fmt.Errorf("insert pocket: row %q vanished", name)
	}
	return p, n == 1, nil
}

func (t *txStore) AddToPocket(ctx context.Context, pocketID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.q.QueryRowContext(ctx, `SELECT balance FROM pockets WHERE id = ?`, pocketID).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, &domain.ErrNotFound{Resource: "pocket", ID: fmt.Sprint(pocketID)}
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read pocket: %w", err)
	}
	balance = balance.Add(delta)
	if _, err := t.q.ExecContext(ctx,
		`UPDATE pockets SET balance = ? WHERE id = ?`, balance.String(), pocketID); err != nil {
		return decimal.Zero, fmt.Errorf("update pocket: %w", err)
	}
	return balance, nil
}

func (t *txStore) DeletePocket(ctx context.Context, pocketID int64) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM pockets WHERE id = ?`, pocketID); err != nil {
		return fmt.Errorf("delete pocket: %w", err)
	}
	return nil
}

// ============================================================
// Investments
// ============================================================

const investmentCols = `id, user_id, name, balance, rate, period, last_accrual_date, created_at`

func scanInvestment(row scanner) (*domain.Investment, error) {
	var inv domain.Investment
	var period, watermark, created string
	if err := row.Scan(&inv.ID, &inv.UserID, &inv.Name, &inv.Balance, &inv.Rate,
		&period, &watermark, &created); err != nil {
		return nil, err
	}
	inv.Period = domain.RatePeriod(period)
	var err error
	if inv.LastAccrualDate, err = parseDay(watermark); err != nil {
		return nil, err
	}
	if inv.CreatedAt, err = parseTS(created); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (t *txStore) GetInvestment(ctx context.Context, userID, name string) (*domain.Investment, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+investmentCols+` FROM investments WHERE user_id = ? AND name_key = ?`,
		userID, domain.NameKey(name))
	inv, err := scanInvestment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get investment: %w", err)
	}
	return inv, nil
}

func (t *txStore) ListInvestments(ctx context.Context, userID string) ([]domain.Investment, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+investmentCols+` FROM investments WHERE user_id = ? ORDER BY name_key`, userID)
	if err != nil {
		return nil, fmt.Errorf("list investments: %w", err)
	}
	defer rows.Close()

	out := []domain.Investment{}
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan investment: %w", err)
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

func (t *txStore) InsertInvestment(ctx context.Context, inv *domain.Investment) (*domain.Investment, bool, error) {
	name := domain.CleanName(inv.Name)
	res, err := t.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO investments (user_id, name, name_key, balance, rate, period, last_accrual_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.UserID, name, domain.NameKey(name), inv.Balance.String(), inv.Rate.String(),
		string(inv.Period), domain.FormatDate(inv.LastAccrualDate), formatTS(t.now()))
	if err != nil {
		return nil, false, fmt.Errorf("insert investment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert investment: %w", err)
	}
	stored, err := t.GetInvestment(ctx, inv.UserID, name)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("insert investment: row %q vanished", name)
	}
	return stored, n == 1, nil
}

func (t *txStore) SaveAccrual(ctx context.Context, investmentID int64, balance decimal.Decimal, watermark time.Time) error {
	if _, err := t.q.ExecContext(ctx,
		`UPDATE investments SET balance = ?, last_accrual_date = ? WHERE id = ?`,
		balance.String(), domain.FormatDate(watermark), investmentID); err != nil {
		return fmt.Errorf("save accrual: %w", err)
	}
	return nil
}

func (t *txStore) AddToInvestment(ctx context.Context, investmentID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := t.q.QueryRowContext(ctx, `SELECT balance FROM investments WHERE id = ?`, investmentID).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, &domain.ErrNotFound{Resource: "investment", ID: fmt.Sprint(investmentID)}
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("read investment: %w", err)
	}
	balance = balance.Add(delta)
	if _, err := t.q.ExecContext(ctx,
		`UPDATE investments SET balance = ? WHERE id = ?`, balance.String(), investmentID); err != nil {
		return decimal.Zero, fmt.Errorf("update investment: %w", err)
	}
	return balance, nil
}

func (t *txStore) DeleteInvestment(ctx context.Context, investmentID int64) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM investments WHERE id = ?`, investmentID); err != nil {
		return fmt.Errorf("delete investment: %w", err)
	}
	return nil
}
