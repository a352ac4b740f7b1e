// Package service provides the business logic layer (use cases).
// LedgerService owns the money movements between a user's account, its
// pockets and its investments. Every mutation runs in one store
// transaction and writes exactly one ledger entry carrying the effects
// needed to reverse it.
package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/infra/observability"
	"github.com/boddenberg/pocket-ledger/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var ledgerTracer = otel.Tracer("service/ledger")

// LedgerService orchestrates account, pocket and investment operations.
type LedgerService struct {
	store   port.LedgerStore
	accrual *AccrualEngine
	clock   Clock
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(store port.LedgerStore, accrual *AccrualEngine, clock Clock, metrics *observability.Metrics, logger *zap.Logger) *LedgerService {
	return &LedgerService{store: store, accrual: accrual, clock: clock, metrics: metrics, logger: logger}
}

func (s *LedgerService) newEntry(userID string, kind domain.EntryKind, amount *decimal.Decimal, target, note string, eff *domain.Effects) *domain.Entry {
	return &domain.Entry{
		UserID:    userID,
		Kind:      kind,
		Amount:    amount,
		Target:    target,
		Note:      strings.TrimSpace(note),
		CreatedAt: s.clock.Now(),
		Effects:   eff,
	}
}

func (s *LedgerService) committed(e *domain.Entry, fields ...zap.Field) {
	if s.metrics != nil {
		s.metrics.IncrEntry(e.Kind)
	}
	base := []zap.Field{
		zap.String("user_id", e.UserID),
		zap.Int64("entry_id", e.ID),
		zap.String("kind", string(e.Kind)),
		zap.String("target", e.Target),
	}
	if e.Amount != nil {
		base = append(base, zap.String("amount", e.Amount.String()))
	}
	s.logger.Info("ledger entry recorded", append(base, fields...)...)
}

// ============================================================
// Income & expenses
// ============================================================

// Record posts an income or expense against the account. The category is
// stored as given, it only has to be non-empty. Expenses may take the
// account below zero.
func (s *LedgerService) Record(ctx context.Context, userID string, kind domain.EntryKind, amount decimal.Decimal, category, note string) (res *domain.RecordResult, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.Record")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("entry.kind", string(kind)))
	defer func(start time.Time) { observe(s.metrics, s.logger, "record", start, err) }(time.Now())

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	var delta decimal.Decimal
	amount, err = domain.ValidateAmount(amount)
	if err != nil {
		return nil, err
	}
	switch kind {
	case domain.KindIncome:
		delta = amount
	case domain.KindExpense:
		delta = amount.Neg()
	default:
		return nil, &domain.ErrValidation{Field: "kind", Message: "must be income or expense"}
	}
	category = domain.CleanName(category)
	if category == "" {
		return nil, &domain.ErrValidation{Field: "category", Message: "is required"}
	}

	entry := s.newEntry(userID, kind, &amount, category, note, domain.DeltaEffects(delta))
	var balance decimal.Decimal
	err = s.store.WithTx(ctx, "record", func(tx port.Tx) error {
		if err := tx.EnsureUser(ctx, userID); err != nil {
			return err
		}
		var err error
		if balance, err = tx.AddToAccount(ctx, userID, delta); err != nil {
			return err
		}
		_, err = tx.InsertEntry(ctx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.committed(entry, zap.String("account_balance", balance.String()))
	return &domain.RecordResult{Entry: *entry, AccountBalance: balance}, nil
}

// ============================================================
// Pockets
// ============================================================

// PocketDeposit moves amount from the account into a pocket.
func (s *LedgerService) PocketDeposit(ctx context.Context, userID, name string, amount decimal.Decimal, note string) (*domain.MovementResult, error) {
	return s.pocketMove(ctx, "pocket_deposit", domain.KindPocketDeposit, userID, name, amount, note)
}

// PocketWithdraw moves amount from a pocket back to the account.
func (s *LedgerService) PocketWithdraw(ctx context.Context, userID, name string, amount decimal.Decimal, note string) (*domain.MovementResult, error) {
	return s.pocketMove(ctx, "pocket_withdraw", domain.KindPocketWithdraw, userID, name, amount, note)
}

func (s *LedgerService) pocketMove(ctx context.Context, op string, kind domain.EntryKind, userID, name string, amount decimal.Decimal, note string) (res *domain.MovementResult, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.PocketMove")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("entry.kind", string(kind)))
	defer func(start time.Time) { observe(s.metrics, s.logger, op, start, err) }(time.Now())

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if amount, err = domain.ValidateAmount(amount); err != nil {
		return nil, err
	}

	var entry *domain.Entry
	res = &domain.MovementResult{}
	err = s.store.WithTx(ctx, op, func(tx port.Tx) error {
		if err := tx.EnsureUser(ctx, userID); err != nil {
			return err
		}
		acc, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		p, err := tx.GetPocket(ctx, userID, name)
		if err != nil {
			return err
		}
		if p == nil {
			return pocketNotFound(ctx, tx, userID, name)
		}

		accountDelta, pocketDelta := amount.Neg(), amount
		if kind == domain.KindPocketDeposit {
			if acc.Balance.LessThan(amount) {
				return &domain.ErrInsufficientFunds{Source: "account", Available: acc.Balance, Required: amount}
			}
		} else {
			if p.Balance.LessThan(amount) {
				return &domain.ErrInsufficientFunds{Source: "pocket " + p.Name, Available: p.Balance, Required: amount}
			}
			accountDelta, pocketDelta = amount, amount.Neg()
		}

		if res.AccountBalance, err = tx.AddToAccount(ctx, userID, accountDelta); err != nil {
			return err
		}
		if res.TargetBalance, err = tx.AddToPocket(ctx, p.ID, pocketDelta); err != nil {
			return err
		}
		res.Target = p.Name

		entry = s.newEntry(userID, kind, &amount, p.Name, note, domain.DeltaEffects(accountDelta,
			domain.BalanceDelta{Entity: domain.EntityPocket, Name: p.Name, Delta: pocketDelta}))
		_, err = tx.InsertEntry(ctx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	res.Entry = *entry
	s.committed(entry, zap.String("pocket_balance", res.TargetBalance.String()))
	return res, nil
}

// CreatePocket creates a pocket at balance zero. When a pocket with the
// same case-insensitive name exists it is returned unchanged and no entry
// is written.
func (s *LedgerService) CreatePocket(ctx context.Context, userID, name, note string) (res *domain.PocketResult, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.CreatePocket")
	defer span.End()
	defer func(start time.Time) { observe(s.metrics, s.logger, "create_pocket", start, err) }(time.Now())

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	name = domain.CleanName(name)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "is required"}
	}

	res = &domain.PocketResult{}
	err = s.store.WithTx(ctx, "create_pocket", func(tx port.Tx) error {
		if err := tx.EnsureUser(ctx, userID); err != nil {
			return err
		}
		p, created, err := tx.InsertPocket(ctx, userID, name, decimal.Zero)
		if err != nil {
			return err
		}
		res.Pocket, res.Created = *p, created
		if !created {
			return nil
		}
		entry := s.newEntry(userID, domain.KindCreatePocket, nil, p.Name, note,
			domain.CreateEffects(domain.PocketSnapshot(p)))
		if _, err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		res.Entry = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Entry != nil {
		s.committed(res.Entry)
	}
	return res, nil
}

// DeletePocket removes a pocket whose balance is exactly zero.
func (s *LedgerService) DeletePocket(ctx context.Context, userID, name, note string) (res *domain.Entry, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.DeletePocket")
	defer span.End()
	defer func(start time.Time) { observe(s.metrics, s.logger, "delete_pocket", start, err) }(time.Now())

	if err := requireUser(userID); err != nil {
		return nil, err
	}

	var entry *domain.Entry
	err = s.store.WithTx(ctx, "delete_pocket", func(tx port.Tx) error {
		if err := tx.EnsureUser(ctx, userID); err != nil {
			return err
		}
		if _, err := tx.LockAccount(ctx, userID); err != nil {
			return err
		}
		p, err := tx.GetPocket(ctx, userID, name)
		if err != nil {
			return err
		}
		if p == nil {
			return pocketNotFound(ctx, tx, userID, name)
		}
		if !p.Balance.IsZero() {
			return &domain.ErrNotZeroBalance{Resource: "pocket", Name: p.Name, Balance: p.Balance}
		}
		if err := tx.DeletePocket(ctx, p.ID); err != nil {
			return err
		}
		entry = s.newEntry(userID, domain.KindDeletePocket, nil, p.Name, note,
			domain.DeleteEffects(domain.PocketSnapshot(p)))
		_, err = tx.InsertEntry(ctx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.committed(entry)
	return entry, nil
}

// ListPockets returns the user's pockets ordered by name.
func (s *LedgerService) ListPockets(ctx context.Context, userID string) ([]domain.Pocket, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListPockets")
	defer span.End()

	var out []domain.Pocket
	err := s.store.View(ctx, func(tx port.Tx) error {
		var err error
		out, err = tx.ListPockets(ctx, userID)
		return err
	})
	return out, err
}

// ============================================================
// Investments
// ============================================================

// CreateInvestment opens an investment at balance zero with its watermark
// at today. Existing names are returned unchanged.
func (s *LedgerService) CreateInvestment(ctx context.Context, userID, name string, rate decimal.Decimal, period domain.RatePeriod, note string) (res *domain.InvestmentResult, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.CreateInvestment")
	defer span.End()
	defer func(start time.Time) { observe(s.metrics, s.logger, "create_investment", start, err) }(time.Now())

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	name = domain.CleanName(name)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "is required"}
	}
	if _, err := domain.ParseRatePeriod(string(period)); err != nil {
		return nil, err
	}
	if !rate.IsPositive() {
		return nil, &domain.ErrValidation{Field: "rate", Message: "must be greater than zero"}
	}

	res = &domain.InvestmentResult{}
	err = s.store.WithTx(ctx, "create_investment", func(tx port.Tx) error {
		if err := tx.EnsureUser(ctx, userID); err != nil {
			return err
		}
		inv, created, err := tx.InsertInvestment(ctx, &domain.Investment{
			UserID:          userID,
			Name:            name,
			Balance:         decimal.Zero,
			Rate:            rate,
			Period:          period,
			LastAccrualDate: s.clock.Today(),
		})
		if err != nil {
			return err
		}
		res.Investment, res.Created = *inv, created
		if !created {
			return nil
		}
		entry := s.newEntry(userID, domain.KindCreateInvestment, nil, inv.Name, note,
			domain.CreateEffects(domain.InvestmentSnapshot(inv)))
		if _, err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		res.Entry = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Entry != nil {
		s.committed(res.Entry, zap.String("rate", rate.String()), zap.String("period", string(period)))
	}
	return res, nil
}

// DeleteInvestment accrues the investment, then removes it if its balance
// is exactly zero. Rate, period and watermark go into the entry.
func (s *LedgerService) DeleteInvestment(ctx context.Context, userID, name, note string) (res *domain.Entry, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.DeleteInvestment")
	defer span.End()
	defer func(start time.Time) { observe(s.metrics, s.logger, "delete_investment", start, err) }(time.Now())

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	today := s.clock.Today()
	rates, err := s.accrual.Prefetch(ctx, userID, today, name)
	if err != nil {
		return nil, err
	}

	var entry *domain.Entry
	err = s.store.WithTx(ctx, "delete_investment", func(tx port.Tx) error {
		if err := tx.EnsureUser(ctx, userID); err != nil {
			return err
		}
		if _, err := tx.LockAccount(ctx, userID); err != nil {
			return err
		}
		inv, err := tx.GetInvestment(ctx, userID, name)
		if err != nil {
			return err
		}
		if inv == nil {
			return investmentNotFound(ctx, tx, userID, name)
		}
		if err := s.accrual.Accrue(ctx, tx, inv, today, rates); err != nil {
			return err
		}
		if !inv.Balance.IsZero() {
			return &domain.ErrNotZeroBalance{Resource: "investment", Name: inv.Name, Balance: inv.Balance}
		}
		if err := tx.DeleteInvestment(ctx, inv.ID); err != nil {
			return err
		}
		entry = s.newEntry(userID, domain.KindDeleteInvestment, nil, inv.Name, note,
			domain.DeleteEffects(domain.InvestmentSnapshot(inv)))
		_, err = tx.InsertEntry(ctx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.committed(entry)
	return entry, nil
}

// InvestmentDeposit accrues the investment and moves amount into it from
// the account.
func (s *LedgerService) InvestmentDeposit(ctx context.Context, userID, name string, amount decimal.Decimal, note string) (*domain.MovementResult, error) {
	return s.investmentMove(ctx, "investment_deposit", domain.KindInvestmentDeposit, userID, name, amount, note)
}

// InvestmentWithdraw accrues the investment and moves amount out of it
// into the account.
func (s *LedgerService) InvestmentWithdraw(ctx context.Context, userID, name string, amount decimal.Decimal, note string) (*domain.MovementResult, error) {
	return s.investmentMove(ctx, "investment_withdraw", domain.KindInvestmentWithdraw, userID, name, amount, note)
}

func (s *LedgerService) investmentMove(ctx context.Context, op string, kind domain.EntryKind, userID, name string, amount decimal.Decimal, note string) (res *domain.MovementResult, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.InvestmentMove")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("entry.kind", string(kind)))
	defer func(start time.Time) { observe(s.metrics, s.logger, op, start, err) }(time.Now())

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if amount, err = domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	today := s.clock.Today()
	rates, err := s.accrual.Prefetch(ctx, userID, today, name)
	if err != nil {
		return nil, err
	}

	var entry *domain.Entry
	res = &domain.MovementResult{}
	err = s.store.WithTx(ctx, op, func(tx port.Tx) error {
		if err := tx.EnsureUser(ctx, userID); err != nil {
			return err
		}
		acc, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		inv, err := tx.GetInvestment(ctx, userID, name)
		if err != nil {
			return err
		}
		if inv == nil {
			return investmentNotFound(ctx, tx, userID, name)
		}
		if err := s.accrual.Accrue(ctx, tx, inv, today, rates); err != nil {
			return err
		}

		accountDelta, invDelta := amount.Neg(), amount
		if kind == domain.KindInvestmentDeposit {
			if acc.Balance.LessThan(amount) {
				return &domain.ErrInsufficientFunds{Source: "account", Available: acc.Balance, Required: amount}
			}
		} else {
			if inv.Balance.LessThan(amount) {
				return &domain.ErrInsufficientFunds{Source: "investment " + inv.Name, Available: inv.Balance, Required: amount}
			}
			accountDelta, invDelta = amount, amount.Neg()
		}

		if res.AccountBalance, err = tx.AddToAccount(ctx, userID, accountDelta); err != nil {
			return err
		}
		if res.TargetBalance, err = tx.AddToInvestment(ctx, inv.ID, invDelta); err != nil {
			return err
		}
		res.Target = inv.Name

		entry = s.newEntry(userID, kind, &amount, inv.Name, note, domain.DeltaEffects(accountDelta,
			domain.BalanceDelta{Entity: domain.EntityInvestment, Name: inv.Name, Delta: invDelta}))
		_, err = tx.InsertEntry(ctx, entry)
		return err
	})
	if err != nil {
		return nil, err
	}

	res.Entry = *entry
	s.committed(entry, zap.String("investment_balance", res.TargetBalance.String()))
	return res, nil
}

// AccrueAll brings every investment of the user current and returns them.
func (s *LedgerService) AccrueAll(ctx context.Context, userID string) (out []domain.Investment, err error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.AccrueAll")
	defer span.End()
	defer func(start time.Time) { observe(s.metrics, s.logger, "accrue_all", start, err) }(time.Now())

	today := s.clock.Today()
	rates, err := s.accrual.Prefetch(ctx, userID, today)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, "accrue_all", func(tx port.Tx) error {
		invs, err := tx.ListInvestments(ctx, userID)
		if err != nil {
			return err
		}
		for i := range invs {
			if err := s.accrual.Accrue(ctx, tx, &invs[i], today, rates); err != nil {
				return err
			}
		}
		out = invs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListInvestments returns the user's investments, accrued to today.
func (s *LedgerService) ListInvestments(ctx context.Context, userID string) ([]domain.Investment, error) {
	return s.AccrueAll(ctx, userID)
}

// ============================================================
// Read side
// ============================================================

// Balance returns the account, pockets and accrued investments of a user.
func (s *LedgerService) Balance(ctx context.Context, userID string) (*domain.Overview, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.Balance")
	defer span.End()

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	invs, err := s.AccrueAll(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := &domain.Overview{Investments: invs}
	err = s.store.View(ctx, func(tx port.Tx) error {
		acc, err := tx.LockAccount(ctx, userID)
		var nf *domain.ErrNotFound
		switch {
		case err == nil:
			out.Account = acc.Balance
		case errors.As(err, &nf):
			out.Account = decimal.Zero
		default:
			return err
		}
		out.Pockets, err = tx.ListPockets(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	total := out.Account
	for _, p := range out.Pockets {
		total = total.Add(p.Balance)
	}
	for _, inv := range out.Investments {
		total = total.Add(inv.Balance)
	}
	out.Total = total
	out.Display = domain.FormatBRL(total)
	return out, nil
}

// ListEntries returns the newest entries first.
func (s *LedgerService) ListEntries(ctx context.Context, userID string, limit int) ([]domain.Entry, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.ListEntries")
	defer span.End()

	var out []domain.Entry
	err := s.store.View(ctx, func(tx port.Tx) error {
		var err error
		out, err = tx.ListEntries(ctx, userID, limit)
		return err
	})
	return out, err
}

// EntriesBetween returns the entries created on days from..to inclusive,
// oldest first. Days are taken in the clock's location.
func (s *LedgerService) EntriesBetween(ctx context.Context, userID string, from, to time.Time) ([]domain.Entry, error) {
	ctx, span := ledgerTracer.Start(ctx, "LedgerService.EntriesBetween")
	defer span.End()

	if to.Before(from) {
		return nil, &domain.ErrValidation{Field: "to", Message: "must not be before from"}
	}
	start, end := s.clock.StartOf(from), s.clock.StartOf(to.AddDate(0, 0, 1))
	var out []domain.Entry
	err := s.store.View(ctx, func(tx port.Tx) error {
		var err error
		out, err = tx.EntriesBetween(ctx, userID, start, end)
		return err
	})
	return out, err
}

// Summary totals income and expenses per category over from..to.
func (s *LedgerService) Summary(ctx context.Context, userID string, from, to time.Time) (*domain.Summary, error) {
	entries, err := s.EntriesBetween(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}

	income := map[string]*domain.CategoryTotal{}
	expenses := map[string]*domain.CategoryTotal{}
	sum := &domain.Summary{From: domain.FormatDate(from), To: domain.FormatDate(to)}
	for _, e := range entries {
		if e.Amount == nil {
			continue
		}
		var bucket map[string]*domain.CategoryTotal
		switch e.Kind {
		case domain.KindIncome:
			bucket = income
			sum.Income = sum.Income.Add(*e.Amount)
		case domain.KindExpense:
			bucket = expenses
			sum.Expenses = sum.Expenses.Add(*e.Amount)
		default:
			continue
		}
		key := domain.NameKey(e.Target)
		ct, ok := bucket[key]
		if !ok {
			ct = &domain.CategoryTotal{Category: e.Target}
			bucket[key] = ct
		}
		ct.Total = ct.Total.Add(*e.Amount)
		ct.Count++
	}
	sum.Net = sum.Income.Sub(sum.Expenses)
	sum.IncomeByCategory = sortedTotals(income)
	sum.ExpensesByCategory = sortedTotals(expenses)
	return sum, nil
}

func sortedTotals(m map[string]*domain.CategoryTotal) []domain.CategoryTotal {
	out := make([]domain.CategoryTotal, 0, len(m))
	for _, ct := range m {
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Total.Cmp(out[j].Total); c != 0 {
			return c > 0
		}
		return out[i].Category < out[j].Category
	})
	return out
}
