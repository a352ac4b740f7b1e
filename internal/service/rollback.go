package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/infra/observability"
	"github.com/boddenberg/pocket-ledger/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var rollbackTracer = otel.Tracer("service/rollback")

// RollbackService reverses ledger entries from their stored effects.
type RollbackService struct {
	store   port.LedgerStore
	accrual *AccrualEngine
	clock   Clock
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewRollbackService creates a new rollback service.
func NewRollbackService(store port.LedgerStore, accrual *AccrualEngine, clock Clock, metrics *observability.Metrics, logger *zap.Logger) *RollbackService {
	return &RollbackService{store: store, accrual: accrual, clock: clock, metrics: metrics, logger: logger}
}

// Undo reverses one entry of the user and deletes it.
func (s *RollbackService) Undo(ctx context.Context, userID string, entryID int64) (*domain.UndoResult, error) {
	return s.undo(ctx, userID, func(tx port.Tx) (*domain.Entry, error) {
		return tx.GetEntry(ctx, userID, entryID)
	})
}

// UndoLast reverses the newest entry of the user.
func (s *RollbackService) UndoLast(ctx context.Context, userID string) (*domain.UndoResult, error) {
	return s.undo(ctx, userID, func(tx port.Tx) (*domain.Entry, error) {
		return tx.LatestEntry(ctx, userID)
	})
}

func (s *RollbackService) undo(ctx context.Context, userID string, load func(port.Tx) (*domain.Entry, error)) (res *domain.UndoResult, err error) {
	ctx, span := rollbackTracer.Start(ctx, "RollbackService.Undo")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))
	defer func(start time.Time) { observe(s.metrics, s.logger, "undo", start, err) }(time.Now())

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	today := s.clock.Today()
	rates, err := s.accrual.Prefetch(ctx, userID, today)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, "undo", func(tx port.Tx) error {
		if err := tx.EnsureUser(ctx, userID); err != nil {
			return err
		}
		entry, err := load(tx)
		if err != nil {
			return err
		}
		if entry.Effects == nil {
			return &domain.ErrMissingEffects{EntryID: entry.ID}
		}

		r := reversal{tx: tx, accrual: s.accrual, userID: userID, today: today, rates: rates}
		if err := r.apply(ctx, entry.Effects); err != nil {
			return err
		}
		if err := tx.DeleteEntry(ctx, userID, entry.ID); err != nil {
			return err
		}

		acc, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		res = &domain.UndoResult{
			EntryID:        entry.ID,
			Kind:           entry.Kind,
			Skipped:        r.skipped,
			AccountBalance: acc.Balance.String(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrRollback()
	}
	s.logger.Info("ledger entry reversed",
		zap.String("user_id", userID),
		zap.Int64("entry_id", res.EntryID),
		zap.String("kind", string(res.Kind)),
		zap.Strings("skipped", res.Skipped),
	)
	return res, nil
}

// reversal applies the inverse of one effects descriptor inside tx.
// Entities that no longer exist are recorded in skipped instead of failing.
type reversal struct {
	tx      port.Tx
	accrual *AccrualEngine
	userID  string
	today   time.Time
	rates   RateTable
	skipped []string
}

func (r *reversal) apply(ctx context.Context, eff *domain.Effects) error {
	if eff.Kind == domain.EffectDelete && eff.Entity != nil {
		if err := r.recreate(ctx, eff.Entity); err != nil {
			return err
		}
	}

	if !eff.AccountDelta.IsZero() {
		if _, err := r.tx.AddToAccount(ctx, r.userID, eff.AccountDelta.Neg()); err != nil {
			return err
		}
	}

	for _, d := range eff.Deltas {
		if err := r.revertDelta(ctx, d); err != nil {
			return err
		}
	}

	if eff.Kind == domain.EffectCreate && eff.Entity != nil {
		if err := r.destroy(ctx, eff.Entity); err != nil {
			return err
		}
	}

	if eff.Bill != nil {
		return r.revertBill(ctx, eff.Bill)
	}
	return nil
}

func (r *reversal) recreate(ctx context.Context, snap *domain.EntitySnapshot) error {
	switch snap.Type {
	case domain.EntityPocket:
		_, _, err := r.tx.InsertPocket(ctx, r.userID, snap.Name, snap.Balance)
		return err
	case domain.EntityInvestment:
		inv := &domain.Investment{
			UserID:          r.userID,
			Name:            snap.Name,
			Balance:         snap.Balance,
			Period:          snap.Period,
			LastAccrualDate: r.today,
		}
		if snap.Rate != nil {
			inv.Rate = *snap.Rate
		}
		if snap.LastAccrualDate != "" {
			wm, err := domain.ParseDate(snap.LastAccrualDate)
			if err != nil {
				return err
			}
			inv.LastAccrualDate = wm
		}
		_, _, err := r.tx.InsertInvestment(ctx, inv)
		return err
	}
	return fmt.Errorf("unknown entity type %q in effects", snap.Type)
}

func (r *reversal) revertDelta(ctx context.Context, d domain.BalanceDelta) error {
	switch d.Entity {
	case domain.EntityPocket:
		p, err := r.tx.GetPocket(ctx, r.userID, d.Name)
		if err != nil {
			return err
		}
		if p == nil {
			r.skip("pocket", d.Name)
			return nil
		}
		_, err = r.tx.AddToPocket(ctx, p.ID, d.Delta.Neg())
		return err
	case domain.EntityInvestment:
		inv, err := r.tx.GetInvestment(ctx, r.userID, d.Name)
		if err != nil {
			return err
		}
		if inv == nil {
			r.skip("investment", d.Name)
			return nil
		}
		if err := r.accrual.Accrue(ctx, r.tx, inv, r.today, r.rates); err != nil {
			return err
		}
		_, err = r.tx.AddToInvestment(ctx, inv.ID, d.Delta.Neg())
		return err
	}
	return fmt.Errorf("unknown entity type %q in effects", d.Entity)
}

// destroy deletes an entity the entry created. It must be back at zero.
func (r *reversal) destroy(ctx context.Context, snap *domain.EntitySnapshot) error {
	switch snap.Type {
	case domain.EntityPocket:
		p, err := r.tx.GetPocket(ctx, r.userID, snap.Name)
		if err != nil {
			return err
		}
		if p == nil {
			r.skip("pocket", snap.Name)
			return nil
		}
		if !p.Balance.IsZero() {
			return &domain.ErrNotZeroBalance{Resource: "pocket", Name: p.Name, Balance: p.Balance}
		}
		return r.tx.DeletePocket(ctx, p.ID)
	case domain.EntityInvestment:
		inv, err := r.tx.GetInvestment(ctx, r.userID, snap.Name)
		if err != nil {
			return err
		}
		if inv == nil {
			r.skip("investment", snap.Name)
			return nil
		}
		if err := r.accrual.Accrue(ctx, r.tx, inv, r.today, r.rates); err != nil {
			return err
		}
		if !inv.Balance.IsZero() {
			return &domain.ErrNotZeroBalance{Resource: "investment", Name: inv.Name, Balance: inv.Balance}
		}
		return r.tx.DeleteInvestment(ctx, inv.ID)
	}
	return fmt.Errorf("unknown entity type %q in effects", snap.Type)
}

func (r *reversal) revertBill(ctx context.Context, b *domain.BillEffect) error {
	bill, err := r.tx.GetBillByID(ctx, b.BillID)
	var nf *domain.ErrNotFound
	if errors.As(err, &nf) {
		r.skip("bill", fmt.Sprint(b.BillID))
		return nil
	}
	if err != nil {
		return err
	}
	bill.PaidAmount = bill.PaidAmount.Sub(b.PaidDelta)
	// Only a bill still marked paid falls back; a status set after the
	// payment (e.g. closed) stands.
	if bill.Status == domain.BillPaid && bill.PaidAmount.LessThan(bill.Total) {
		bill.Status = b.PreviousStatus
		if bill.Status == "" || bill.Status == domain.BillPaid {
			bill.Status = domain.BillClosed
		}
	}
	return r.tx.UpdateBill(ctx, bill)
}

func (r *reversal) skip(kind, name string) {
	r.skipped = append(r.skipped, kind+" "+name)
}
