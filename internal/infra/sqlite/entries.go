package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// ============================================================
// Ledger entries
// ============================================================

const entryCols = `id, user_id, kind, amount, target, note, created_at, effects`

func scanEntry(row scanner) (*domain.Entry, error) {
	var e domain.Entry
	var kind, created string
	var amount decimal.NullDecimal
	var effects sql.NullString
	if err := row.Scan(&e.ID, &e.UserID, &kind, &amount, &e.Target, &e.Note, &created, &effects); err != nil {
		return nil, err
	}
	e.Kind = domain.EntryKind(kind)
	if amount.Valid {
		a := amount.Decimal
		e.Amount = &a
	}
	ts, err := parseTS(created)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = ts
	if effects.Valid && effects.String != "" {
		var eff domain.Effects
		if err := json.Unmarshal([]byte(effects.String), &eff); err != nil {
			return nil, fmt.Errorf("decode effects of entry %d: %w", e.ID, err)
		}
		e.Effects = &eff
	}
	return &e, nil
}

func (t *txStore) InsertEntry(ctx context.Context, e *domain.Entry) (int64, error) {
	var amount any
	if e.Amount != nil {
		amount = e.Amount.String()
	}
	var effects any
	if e.Effects != nil {
		raw, err := json.Marshal(e.Effects)
		if err != nil {
			return 0, fmt.Errorf("encode effects: %w", err)
		}
		effects = string(raw)
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = t.now()
	}

	res, err := t.q.ExecContext(ctx,
		`INSERT INTO ledger_entries (user_id, kind, amount, target, note, created_at, effects)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, string(e.Kind), amount, e.Target, e.Note, formatTS(created), effects)
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}
	e.ID = id
	e.CreatedAt = created
	return id, nil
}

func (t *txStore) GetEntry(ctx context.Context, userID string, id int64) (*domain.Entry, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+entryCols+` FROM ledger_entries WHERE user_id = ? AND id = ?`, userID, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, &domain.ErrNotFound{Resource: "entry", ID: fmt.Sprint(id)}
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

func (t *txStore) LatestEntry(ctx context.Context, userID string) (*domain.Entry, error) {
	row := t.q.QueryRowContext(ctx,
		`SELECT `+entryCols+` FROM ledger_entries WHERE user_id = ? ORDER BY id DESC LIMIT 1`, userID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, &domain.ErrNotFound{Resource: "entry", ID: "latest"}
	}
	if err != nil {
		return nil, fmt.Errorf("latest entry: %w", err)
	}
	return e, nil
}

func (t *txStore) ListEntries(ctx context.Context, userID string, limit int) ([]domain.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return t.queryEntries(ctx,
		`SELECT `+entryCols+` FROM ledger_entries WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit)
}

// EntriesBetween returns entries with start <= created_at < end.
func (t *txStore) EntriesBetween(ctx context.Context, userID string, start, end time.Time) ([]domain.Entry, error) {
	lo, hi := formatTS(start), formatTS(end)
	return t.queryEntries(ctx,
		`SELECT `+entryCols+` FROM ledger_entries
		 WHERE user_id = ? AND created_at >= ? AND created_at < ? ORDER BY id`,
		userID, lo, hi)
}

func (t *txStore) queryEntries(ctx context.Context, query string, args ...any) ([]domain.Entry, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	out := []domain.Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (t *txStore) DeleteEntry(ctx context.Context, userID string, id int64) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM ledger_entries WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrNotFound{Resource: "entry", ID: fmt.Sprint(id)}
	}
	return nil
}
