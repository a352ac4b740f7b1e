package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/infra/observability"
	"github.com/boddenberg/pocket-ledger/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var creditTracer = otel.Tracer("service/credit")

// Which bill a summary refers to.
const (
	BillCurrent = "open"
	BillNext    = "next"
)

// CreditService manages cards, their billing cycles and bill payments.
// An empty card name always resolves to the user's default card.
type CreditService struct {
	store   port.LedgerStore
	clock   Clock
	metrics *observability.Metrics
	logger  *zap.Logger
	newID   func() string
}

// NewCreditService creates a new credit service.
func NewCreditService(store port.LedgerStore, clock Clock, metrics *observability.Metrics, logger *zap.Logger) *CreditService {
	return &CreditService{store: store, clock: clock, metrics: metrics, logger: logger, newID: uuid.NewString}
}

func (s *CreditService) resolveCard(ctx context.Context, tx port.Tx, userID, name string) (*domain.CreditCard, error) {
	if strings.TrimSpace(name) == "" {
		card, err := tx.GetDefaultCard(ctx, userID)
		if err != nil {
			return nil, err
		}
		if card == nil {
			return nil, &domain.ErrNotFound{Resource: "card", ID: "default"}
		}
		return card, nil
	}
	card, err := tx.GetCard(ctx, userID, name)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, cardNotFound(ctx, tx, userID, name)
	}
	return card, nil
}

// billFor returns the bill of card for period, creating it when absent.
// A closed or paid bill receiving a new purchase is reopened.
func (s *CreditService) billFor(ctx context.Context, tx port.Tx, card *domain.CreditCard, period domain.Period, reopen bool) (*domain.CreditBill, bool, error) {
	bill, err := tx.GetBill(ctx, card.ID, period)
	if err != nil {
		return nil, false, err
	}
	if bill == nil {
		bill, err = tx.InsertBill(ctx, &domain.CreditBill{
			UserID:      card.UserID,
			CardID:      card.ID,
			PeriodStart: period.Start,
			PeriodEnd:   period.End,
			DueDate:     domain.DueDate(period, card.ClosingDay, card.DueDay),
			Status:      domain.BillOpen,
		})
		return bill, false, err
	}
	if reopen && bill.Status != domain.BillOpen {
		bill.Status = domain.BillOpen
		return bill, true, nil
	}
	return bill, false, nil
}

func (s *CreditService) date(d time.Time) time.Time {
	if d.IsZero() {
		return s.clock.Today()
	}
	return domain.DateOf(d)
}

// ============================================================
// Cards
// ============================================================

// CreateCard registers a card. The first card of a user becomes its
// default; makeDefault moves the default to the new card.
func (s *CreditService) CreateCard(ctx context.Context, userID, name string, closingDay, dueDay int, makeDefault bool) (card *domain.CreditCard, err error) {
	ctx, span := creditTracer.Start(ctx, "CreditService.CreateCard")
	defer span.End()
	defer func(start time.Time) { observe(s.metrics, s.logger, "create_card", start, err) }(time.Now())

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	name = domain.CleanName(name)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "is required"}
	}
	if err := domain.ValidateCardDay("closing_day", closingDay); err != nil {
		return nil, err
	}
	if err := domain.ValidateCardDay("due_day", dueDay); err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, "create_card", func(tx port.Tx) error {
		if err := tx.EnsureUser(ctx, userID); err != nil {
			return err
		}
		existing, err := tx.ListCards(ctx, userID)
		if err != nil {
			return err
		}
		first := len(existing) == 0
		card, err = tx.InsertCard(ctx, &domain.CreditCard{
			UserID:     userID,
			Name:       name,
			ClosingDay: closingDay,
			DueDay:     dueDay,
			IsDefault:  first,
		})
		if err != nil {
			return err
		}
		if makeDefault && !first {
			if err := tx.SetDefaultCard(ctx, userID, card.ID); err != nil {
				return err
			}
			card.IsDefault = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("card created",
		zap.String("user_id", userID),
		zap.String("card", card.Name),
		zap.Int("closing_day", closingDay),
		zap.Int("due_day", dueDay),
		zap.Bool("default", card.IsDefault),
	)
	return card, nil
}

// ListCards returns the user's cards.
func (s *CreditService) ListCards(ctx context.Context, userID string) ([]domain.CreditCard, error) {
	ctx, span := creditTracer.Start(ctx, "CreditService.ListCards")
	defer span.End()

	var out []domain.CreditCard
	err := s.store.View(ctx, func(tx port.Tx) error {
		var err error
		out, err = tx.ListCards(ctx, userID)
		return err
	})
	return out, err
}

// SetDefaultCard makes the named card the default one.
func (s *CreditService) SetDefaultCard(ctx context.Context, userID, name string) (card *domain.CreditCard, err error) {
	ctx, span := creditTracer.Start(ctx, "CreditService.SetDefaultCard")
	defer span.End()
	defer func(start time.Time) { observe(s.metrics, s.logger, "set_default_card", start, err) }(time.Now())

	if strings.TrimSpace(name) == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "is required"}
	}
	err = s.store.WithTx(ctx, "set_default_card", func(tx port.Tx) error {
		var err error
		if card, err = s.resolveCard(ctx, tx, userID, name); err != nil {
			return err
		}
		if err := tx.SetDefaultCard(ctx, userID, card.ID); err != nil {
			return err
		}
		card.IsDefault = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return card, nil
}

// ============================================================
// Purchases
// ============================================================

// RecordPurchase posts a purchase into the bill of the cycle date falls in.
// A zero date means today.
func (s *CreditService) RecordPurchase(ctx context.Context, userID, cardName string, amount decimal.Decimal, category, note string, date time.Time) (res *domain.PurchaseResult, err error) {
	ctx, span := creditTracer.Start(ctx, "CreditService.RecordPurchase")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))
	defer func(start time.Time) { observe(s.metrics, s.logger, "record_purchase", start, err) }(time.Now())

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if amount, err = domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	date = s.date(date)

	res = &domain.PurchaseResult{}
	err = s.store.WithTx(ctx, "record_purchase", func(tx port.Tx) error {
		if err := tx.EnsureUser(ctx, userID); err != nil {
			return err
		}
		card, err := s.resolveCard(ctx, tx, userID, cardName)
		if err != nil {
			return err
		}
		bill, reopened, err := s.billFor(ctx, tx, card, domain.BillingPeriod(date, card.ClosingDay), true)
		if err != nil {
			return err
		}

		ct := domain.CreditTransaction{
			UserID:            userID,
			CardID:            card.ID,
			BillID:            bill.ID,
			Kind:              domain.CreditPurchase,
			Amount:            amount,
			Category:          domain.CleanName(category),
			Note:              strings.TrimSpace(note),
			PurchaseDate:      date,
			GroupID:           s.newID(),
			InstallmentNo:     1,
			InstallmentsTotal: 1,
		}
		if _, err := tx.InsertCreditTx(ctx, &ct); err != nil {
			return err
		}
		bill.Total = bill.Total.Add(amount)
		if err := tx.UpdateBill(ctx, bill); err != nil {
			return err
		}

		res.Transaction, res.Bill, res.Reopened = ct, *bill, reopened
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("credit purchase recorded",
		zap.String("user_id", userID),
		zap.Int64("bill_id", res.Bill.ID),
		zap.String("amount", amount.String()),
		zap.String("period", res.Bill.Period().String()),
		zap.Bool("reopened", res.Reopened),
	)
	return res, nil
}

// RecordInstallments splits total into n shares. Installment i lands in
// the bill i cycles after the purchase's own cycle; all share a group id.
func (s *CreditService) RecordInstallments(ctx context.Context, userID, cardName string, total decimal.Decimal, n int, category, note string, date time.Time) (res *domain.InstallmentsResult, err error) {
	ctx, span := creditTracer.Start(ctx, "CreditService.RecordInstallments")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.Int("installments", n))
	defer func(start time.Time) { observe(s.metrics, s.logger, "record_installments", start, err) }(time.Now())

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if total, err = domain.ValidateAmount(total); err != nil {
		return nil, err
	}
	shares, err := domain.SplitInstallments(total, n)
	if err != nil {
		return nil, err
	}
	if !shares[0].IsPositive() {
		return nil, &domain.ErrValidation{Field: "installments", Message: fmt.Sprintf("%s cannot be split in %d installments", total.String(), n)}
	}
	date = s.date(date)

	res = &domain.InstallmentsResult{GroupID: s.newID()}
	err = s.store.WithTx(ctx, "record_installments", func(tx port.Tx) error {
		if err := tx.EnsureUser(ctx, userID); err != nil {
			return err
		}
		card, err := s.resolveCard(ctx, tx, userID, cardName)
		if err != nil {
			return err
		}
		kind := domain.CreditInstallment
		if n == 1 {
			kind = domain.CreditPurchase
		}
		for i, share := range shares {
			bill, _, err := s.billFor(ctx, tx, card, domain.BillingPeriodOffset(date, card.ClosingDay, i), true)
			if err != nil {
				return err
			}
			ct := domain.CreditTransaction{
				UserID:            userID,
				CardID:            card.ID,
				BillID:            bill.ID,
				Kind:              kind,
				Amount:            share,
				Category:          domain.CleanName(category),
				Note:              strings.TrimSpace(note),
				PurchaseDate:      date,
				GroupID:           res.GroupID,
				InstallmentNo:     i + 1,
				InstallmentsTotal: n,
			}
			if _, err := tx.InsertCreditTx(ctx, &ct); err != nil {
				return err
			}
			bill.Total = bill.Total.Add(share)
			if err := tx.UpdateBill(ctx, bill); err != nil {
				return err
			}
			res.Transactions = append(res.Transactions, ct)
			res.Bills = append(res.Bills, *bill)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("installments recorded",
		zap.String("user_id", userID),
		zap.String("group_id", res.GroupID),
		zap.String("total", total.String()),
		zap.Int("n", n),
	)
	return res, nil
}

// RecordRefund posts a negative transaction into the bill of date's cycle.
func (s *CreditService) RecordRefund(ctx context.Context, userID, cardName string, amount decimal.Decimal, note string, date time.Time) (res *domain.PurchaseResult, err error) {
	ctx, span := creditTracer.Start(ctx, "CreditService.RecordRefund")
	defer span.End()
	defer func(start time.Time) { observe(s.metrics, s.logger, "record_refund", start, err) }(time.Now())

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if amount, err = domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	date = s.date(date)

	res = &domain.PurchaseResult{}
	err = s.store.WithTx(ctx, "record_refund", func(tx port.Tx) error {
		if err := tx.EnsureUser(ctx, userID); err != nil {
			return err
		}
		card, err := s.resolveCard(ctx, tx, userID, cardName)
		if err != nil {
			return err
		}
		bill, _, err := s.billFor(ctx, tx, card, domain.BillingPeriod(date, card.ClosingDay), false)
		if err != nil {
			return err
		}
		ct := domain.CreditTransaction{
			UserID:            userID,
			CardID:            card.ID,
			BillID:            bill.ID,
			Kind:              domain.CreditRefund,
			Amount:            amount.Neg(),
			Note:              strings.TrimSpace(note),
			PurchaseDate:      date,
			GroupID:           s.newID(),
			InstallmentNo:     1,
			InstallmentsTotal: 1,
		}
		if _, err := tx.InsertCreditTx(ctx, &ct); err != nil {
			return err
		}
		bill.Total = bill.Total.Sub(amount)
		if err := tx.UpdateBill(ctx, bill); err != nil {
			return err
		}
		res.Transaction, res.Bill = ct, *bill
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RevertGroup removes every transaction of a purchase group and takes
// their amounts back out of the bills.
func (s *CreditService) RevertGroup(ctx context.Context, userID, groupID string) (res *domain.RevertResult, err error) {
	ctx, span := creditTracer.Start(ctx, "CreditService.RevertGroup")
	defer span.End()
	defer func(start time.Time) { observe(s.metrics, s.logger, "revert_group", start, err) }(time.Now())

	if err := requireUser(userID); err != nil {
		return nil, err
	}

	res = &domain.RevertResult{GroupID: groupID}
	err = s.store.WithTx(ctx, "revert_group", func(tx port.Tx) error {
		txs, err := tx.ListCreditTxByGroup(ctx, userID, groupID)
		if err != nil {
			return err
		}
		if len(txs) == 0 {
			return &domain.ErrNotFound{Resource: "purchase group", ID: groupID}
		}
		bills := map[int64]*domain.CreditBill{}
		var order []int64
		for _, ct := range txs {
			bill, ok := bills[ct.BillID]
			if !ok {
				if bill, err = tx.GetBillByID(ctx, ct.BillID); err != nil {
					return err
				}
				bills[ct.BillID] = bill
				order = append(order, ct.BillID)
			}
			bill.Total = bill.Total.Sub(ct.Amount)
			if err := tx.DeleteCreditTx(ctx, ct.ID); err != nil {
				return err
			}
		}
		for _, id := range order {
			bill := bills[id]
			if bill.Status == domain.BillPaid && bill.PaidAmount.LessThan(bill.Total) {
				bill.Status = domain.BillClosed
			}
			if err := tx.UpdateBill(ctx, bill); err != nil {
				return err
			}
			res.Bills = append(res.Bills, *bill)
		}
		res.Removed = len(txs)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("purchase group reverted",
		zap.String("user_id", userID),
		zap.String("group_id", groupID),
		zap.Int("removed", res.Removed),
	)
	return res, nil
}

// ============================================================
// Bills
// ============================================================

// PayBill pays the bill of today's cycle. A nil amount pays everything due.
// An amount above what is due is rejected without side effects.
func (s *CreditService) PayBill(ctx context.Context, userID, cardName string, amount *decimal.Decimal, note string) (res *domain.PaymentResult, err error) {
	ctx, span := creditTracer.Start(ctx, "CreditService.PayBill")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))
	defer func(start time.Time) { observe(s.metrics, s.logger, "pay_bill", start, err) }(time.Now())

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if amount != nil {
		v, err := domain.ValidateAmount(*amount)
		if err != nil {
			return nil, err
		}
		amount = &v
	}
	today := s.clock.Today()

	res = &domain.PaymentResult{}
	err = s.store.WithTx(ctx, "pay_bill", func(tx port.Tx) error {
		if err := tx.EnsureUser(ctx, userID); err != nil {
			return err
		}
		acc, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return err
		}
		res.AccountBalance = acc.Balance

		card, err := s.resolveCard(ctx, tx, userID, cardName)
		if err != nil {
			return err
		}
		bill, err := tx.GetBill(ctx, card.ID, domain.BillingPeriod(today, card.ClosingDay))
		if err != nil {
			return err
		}
		if bill == nil {
			res.NothingDue = true
			return nil
		}
		res.Bill = bill

		due := bill.Due()
		if !due.IsPositive() {
			res.NothingDue = true
			return nil
		}
		pay := due
		if amount != nil {
			if amount.GreaterThan(due) {
				return &domain.ErrAmountExceedsDue{Amount: *amount, Due: due}
			}
			pay = *amount
		}
		if acc.Balance.LessThan(pay) {
			return &domain.ErrInsufficientFunds{Source: "account", Available: acc.Balance, Required: pay}
		}

		prev := bill.Status
		if res.AccountBalance, err = tx.AddToAccount(ctx, userID, pay.Neg()); err != nil {
			return err
		}
		bill.PaidAmount = bill.PaidAmount.Add(pay)
		if bill.PaidAmount.GreaterThanOrEqual(bill.Total) {
			bill.Status = domain.BillPaid
		}
		if err := tx.UpdateBill(ctx, bill); err != nil {
			return err
		}

		eff := domain.DeltaEffects(pay.Neg())
		eff.Bill = &domain.BillEffect{BillID: bill.ID, PaidDelta: pay, PreviousStatus: prev}
		entry := &domain.Entry{
			UserID:    userID,
			Kind:      domain.KindPayBill,
			Amount:    &pay,
			Target:    card.Name,
			Note:      strings.TrimSpace(note),
			CreatedAt: s.clock.Now(),
			Effects:   eff,
		}
		if _, err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		res.Paid, res.Entry = pay, entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.Entry != nil {
		if s.metrics != nil {
			s.metrics.IncrEntry(domain.KindPayBill)
		}
		s.logger.Info("bill paid",
			zap.String("user_id", userID),
			zap.Int64("entry_id", res.Entry.ID),
			zap.Int64("bill_id", res.Bill.ID),
			zap.String("paid", res.Paid.String()),
			zap.String("status", string(res.Bill.Status)),
		)
	}
	return res, nil
}

// CloseBill marks the bill of date's cycle closed. A zero date means today.
func (s *CreditService) CloseBill(ctx context.Context, userID, cardName string, date time.Time) (bill *domain.CreditBill, err error) {
	ctx, span := creditTracer.Start(ctx, "CreditService.CloseBill")
	defer span.End()
	defer func(start time.Time) { observe(s.metrics, s.logger, "close_bill", start, err) }(time.Now())

	date = s.date(date)
	err = s.store.WithTx(ctx, "close_bill", func(tx port.Tx) error {
		card, err := s.resolveCard(ctx, tx, userID, cardName)
		if err != nil {
			return err
		}
		period := domain.BillingPeriod(date, card.ClosingDay)
		if bill, err = tx.GetBill(ctx, card.ID, period); err != nil {
			return err
		}
		if bill == nil {
			return &domain.ErrNotFound{Resource: "bill", ID: card.Name + " " + period.String()}
		}
		if bill.Status != domain.BillOpen {
			return nil
		}
		bill.Status = domain.BillClosed
		return tx.UpdateBill(ctx, bill)
	})
	if err != nil {
		return nil, err
	}
	return bill, nil
}

// BillSummary returns the current (BillCurrent) or next (BillNext) bill
// of a card with its transactions. The bill is nil when nothing was
// posted to that cycle yet.
func (s *CreditService) BillSummary(ctx context.Context, userID, cardName, which string) (*domain.BillSummary, error) {
	ctx, span := creditTracer.Start(ctx, "CreditService.BillSummary")
	defer span.End()

	offset := 0
	switch which {
	case "", BillCurrent:
	case BillNext:
		offset = 1
	default:
		return nil, &domain.ErrValidation{Field: "which", Message: "must be open or next"}
	}
	today := s.clock.Today()

	out := &domain.BillSummary{Transactions: []domain.CreditTransaction{}}
	err := s.store.View(ctx, func(tx port.Tx) error {
		card, err := s.resolveCard(ctx, tx, userID, cardName)
		if err != nil {
			return err
		}
		out.Card = *card
		out.Period = domain.BillingPeriodOffset(today, card.ClosingDay, offset)
		if out.Bill, err = tx.GetBill(ctx, card.ID, out.Period); err != nil {
			return err
		}
		if out.Bill == nil {
			return nil
		}
		out.Transactions, err = tx.ListCreditTxByBill(ctx, out.Bill.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
