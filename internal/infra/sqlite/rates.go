package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// LoadRates returns the stored benchmark percentages for days from..to.
func (s *Store) LoadRates(ctx context.Context, from, to time.Time) (map[string]decimal.Decimal, error) {
	ctx, span := tracer.Start(ctx, "SQLite.LoadRates")
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT day, pct FROM benchmark_rates WHERE day >= ? AND day <= ?`,
		domain.FormatDate(from), domain.FormatDate(to))
	if err != nil {
		return nil, s.classify("load rates", fmt.Errorf("load rates: %w", err))
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var day string
		var pct decimal.Decimal
		if err := rows.Scan(&day, &pct); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		out[day] = pct
	}
	span.SetAttributes(attribute.Int("rates.count", len(out)))
	return out, rows.Err()
}

// SaveRates upserts fetched benchmark percentages.
func (s *Store) SaveRates(ctx context.Context, rates map[string]decimal.Decimal) error {
	if len(rates) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "SQLite.SaveRates")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify("save rates", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO benchmark_rates (day, pct, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(day) DO UPDATE SET pct = excluded.pct, fetched_at = excluded.fetched_at`)
	if err != nil {
		return fmt.Errorf("prepare save rates: %w", err)
	}
	defer stmt.Close()

	fetched := formatTS(s.now())
	for day, pct := range rates {
		if _, err := stmt.ExecContext(ctx, day, pct.String(), fetched); err != nil {
			return s.classify("save rates", fmt.Errorf("save rate %s: %w", day, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return s.classify("save rates", err)
	}
	return nil
}
