package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/boddenberg/pocket-ledger/internal/domain"
)

// ============================================================
// Credit cards
// ============================================================

const cardCols = `id, user_id, name, closing_day, due_day, is_default, created_at`

func scanCard(row scanner) (*domain.CreditCard, error) {
	var c domain.CreditCard
	var created string
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.ClosingDay, &c.DueDay, &c.IsDefault, &created); err != nil {
		return nil, err
	}
	ts, err := parseTS(created)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = ts
	return &c, nil
}

func (t *txStore) InsertCard(ctx context.Context, card *domain.CreditCard) (*domain.CreditCard, error) {
	name := domain.CleanName(card.Name)
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO credit_cards (user_id, name, name_key, closing_day, due_day, is_default, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		card.UserID, name, domain.NameKey(name), card.ClosingDay, card.DueDay, card.IsDefault, formatTS(t.now()))
	if isConstraint(err) {
		return nil, &domain.ErrAlreadyExists{Resource: "card", Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("insert card: %w", err)
	}
	stored, err := t.GetCard(ctx, card.UserID, name)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (t *txStore) GetCard(ctx context.Context, userID, name string) (*domain.CreditCard, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+cardCols+` FROM credit_cards WHERE user_id = ? AND name_key = ?`,
		userID, domain.NameKey(name))
	c, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get card: %w", err)
	}
	return c, nil
}

func (t *txStore) GetDefaultCard(ctx context.Context, userID string) (*domain.CreditCard, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+cardCols+` FROM credit_cards WHERE user_id = ? AND is_default = 1 LIMIT 1`, userID)
	c, err := scanCard(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get default card: %w", err)
	}
	return c, nil
}

func (t *txStore) ListCards(ctx context.Context, userID string) ([]domain.CreditCard, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT `+cardCols+` FROM credit_cards WHERE user_id = ? ORDER BY name_key`, userID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	out := []domain.CreditCard{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetDefaultCard makes cardID the only default card of the user.
func (t *txStore) SetDefaultCard(ctx context.Context, userID string, cardID int64) error {
	if _, err := t.q.ExecContext(ctx,
		`UPDATE credit_cards SET is_default = (id = ?) WHERE user_id = ?`, cardID, userID); err != nil {
		return fmt.Errorf("set default card: %w", err)
	}
	return nil
}

// ============================================================
// Bills
// ============================================================

const billCols = `id, user_id, card_id, period_start, period_end, due_date, total, paid_amount, status`

func scanBill(row scanner) (*domain.CreditBill, error) {
	var b domain.CreditBill
	var start, end, due, status string
	if err := row.Scan(&b.ID, &b.UserID, &b.CardID, &start, &end, &due, &b.Total, &b.PaidAmount, &status); err != nil {
		return nil, err
	}
	b.Status = domain.BillStatus(status)
	var err error
	if b.PeriodStart, err = parseDay(start); err != nil {
		return nil, err
	}
	if b.PeriodEnd, err = parseDay(end); err != nil {
		return nil, err
	}
	if b.DueDate, err = parseDay(due); err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *txStore) GetBill(ctx context.Context, cardID int64, period domain.Period) (*domain.CreditBill, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+billCols+` FROM credit_bills WHERE card_id = ? AND period_start = ? AND period_end = ?`,
		cardID, domain.FormatDate(period.Start), domain.FormatDate(period.End))
	b, err := scanBill(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bill: %w", err)
	}
	return b, nil
}

func (t *txStore) GetBillByID(ctx context.Context, billID int64) (*domain.CreditBill, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+billCols+` FROM credit_bills WHERE id = ?`, billID)
	b, err := scanBill(row)
	if err == sql.ErrNoRows {
		return nil, &domain.ErrNotFound{Resource: "bill", ID: fmt.Sprint(billID)}
	}
	if err != nil {
		return nil, fmt.Errorf("get bill: %w", err)
	}
	return b, nil
}

func (t *txStore) InsertBill(ctx context.Context, bill *domain.CreditBill) (*domain.CreditBill, error) {
	status := bill.Status
	if status == "" {
		status = domain.BillOpen
	}
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO credit_bills (user_id, card_id, period_start, period_end, due_date, total, paid_amount, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		bill.UserID, bill.CardID, domain.FormatDate(bill.PeriodStart), domain.FormatDate(bill.PeriodEnd),
		domain.FormatDate(bill.DueDate), bill.Total.String(), bill.PaidAmount.String(), string(status))
	if err != nil {
		return nil, fmt.Errorf("insert bill: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert bill: %w", err)
	}
	return t.GetBillByID(ctx, id)
}

func (t *txStore) UpdateBill(ctx context.Context, bill *domain.CreditBill) error {
	if _, err := t.q.ExecContext(ctx,
		`UPDATE credit_bills SET total = ?, paid_amount = ?, status = ? WHERE id = ?`,
		bill.Total.String(), bill.PaidAmount.String(), string(bill.Status), bill.ID); err != nil {
		return fmt.Errorf("update bill: %w", err)
	}
	return nil
}

// ============================================================
// Credit transactions
// ============================================================

const creditTxCols = `id, user_id, card_id, bill_id, kind, amount, category, note, purchase_date,
	group_id, installment_no, installments_total, created_at`

func scanCreditTx(row scanner) (*domain.CreditTransaction, error) {
	var c domain.CreditTransaction
	var kind, purchase, created string
	if err := row.Scan(&c.ID, &c.UserID, &c.CardID, &c.BillID, &kind, &c.Amount, &c.Category, &c.Note,
		&purchase, &c.GroupID, &c.InstallmentNo, &c.InstallmentsTotal, &created); err != nil {
		return nil, err
	}
	c.Kind = domain.CreditTxKind(kind)
	var err error
	if c.PurchaseDate, err = parseDay(purchase); err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTS(created); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *txStore) InsertCreditTx(ctx context.Context, c *domain.CreditTransaction) (int64, error) {
	if c.InstallmentNo == 0 {
		c.InstallmentNo, c.InstallmentsTotal = 1, 1
	}
	c.CreatedAt = t.now()
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO credit_transactions (user_id, card_id, bill_id, kind, amount, category, note,
		   purchase_date, group_id, installment_no, installments_total, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.UserID, c.CardID, c.BillID, string(c.Kind), c.Amount.String(), c.Category, c.Note,
		domain.FormatDate(c.PurchaseDate), c.GroupID, c.InstallmentNo, c.InstallmentsTotal, formatTS(c.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert credit transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert credit transaction: %w", err)
	}
	c.ID = id
	return id, nil
}

func (t *txStore) ListCreditTxByBill(ctx context.Context, billID int64) ([]domain.CreditTransaction, error) {
	return t.queryCreditTx(ctx,
		`SELECT `+creditTxCols+` FROM credit_transactions WHERE bill_id = ? ORDER BY purchase_date, id`, billID)
}

func (t *txStore) ListCreditTxByGroup(ctx context.Context, userID, groupID string) ([]domain.CreditTransaction, error) {
	return t.queryCreditTx(ctx,
		`SELECT `+creditTxCols+` FROM credit_transactions WHERE user_id = ? AND group_id = ? ORDER BY installment_no, id`,
		userID, groupID)
}

func (t *txStore) queryCreditTx(ctx context.Context, query string, args ...any) ([]domain.CreditTransaction, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	out := []domain.CreditTransaction{}
	for rows.Next() {
		c, err := scanCreditTx(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (t *txStore) DeleteCreditTx(ctx context.Context, id int64) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM credit_transactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete credit transaction: %w", err)
	}
	return nil
}
