package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Balances
// ============================================================

// Account is the single cash account of a user.
type Account struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// Pocket is a named sub-savings bucket.
type Pocket struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
}

// RatePeriod tells how an investment's rate is expressed.
type RatePeriod string

const (
	PeriodDaily       RatePeriod = "daily"
	PeriodMonthly     RatePeriod = "monthly"
	PeriodYearly      RatePeriod = "yearly"
	PeriodIndexLinked RatePeriod = "index-linked"
)

// ParseRatePeriod validates a period tag.
func ParseRatePeriod(s string) (RatePeriod, error) {
	switch p := RatePeriod(s); p {
	case PeriodDaily, PeriodMonthly, PeriodYearly, PeriodIndexLinked:
		return p, nil
	}
	return "", &ErrValidation{Field: "period", Message: fmt.Sprintf("unknown period %q (daily, monthly, yearly, index-linked)", s)}
}

// Investment is an interest-bearing position. For index-linked positions
// Rate is a multiplier of the benchmark (1.10 = 110% of it).
type Investment struct {
	ID              int64           `json:"id"`
	UserID          string          `json:"user_id"`
	Name            string          `json:"name"`
	Balance         decimal.Decimal `json:"balance"`
	Rate            decimal.Decimal `json:"rate"`
	Period          RatePeriod      `json:"period"`
	LastAccrualDate time.Time       `json:"last_accrual_date"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ============================================================
// Ledger entries
// ============================================================

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	KindIncome             EntryKind = "income"
	KindExpense            EntryKind = "expense"
	KindPocketDeposit      EntryKind = "pocket-deposit"
	KindPocketWithdraw     EntryKind = "pocket-withdraw"
	KindInvestmentDeposit  EntryKind = "investment-deposit"
	KindInvestmentWithdraw EntryKind = "investment-withdraw"
	KindCreatePocket       EntryKind = "create-pocket"
	KindDeletePocket       EntryKind = "delete-pocket"
	KindCreateInvestment   EntryKind = "create-investment"
	KindDeleteInvestment   EntryKind = "delete-investment"
	KindPayBill            EntryKind = "pay-bill"
)

// Entry is one immutable money movement plus its reversal recipe.
type Entry struct {
	ID        int64            `json:"id"`
	UserID    string           `json:"user_id"`
	Kind      EntryKind        `json:"kind"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Target    string           `json:"target"`
	Note      string           `json:"note,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Effects   *Effects         `json:"effects,omitempty"`
}

// EffectKind discriminates the Effects union.
type EffectKind string

const (
	EffectDelta  EffectKind = "delta"
	EffectCreate EffectKind = "create"
	EffectDelete EffectKind = "delete"
)

// EntityType names what a delta or snapshot refers to.
type EntityType string

const (
	EntityPocket     EntityType = "pocket"
	EntityInvestment EntityType = "investment"
)

// BalanceDelta is the signed change applied to a named pocket or investment.
type BalanceDelta struct {
	Entity EntityType      `json:"entity"`
	Name   string          `json:"name"`
	Delta  decimal.Decimal `json:"delta"`
}

// EntitySnapshot is enough to recreate a deleted pocket or investment, or
// to find a created one again.
type EntitySnapshot struct {
	Type            EntityType       `json:"type"`
	Name            string           `json:"name"`
	Balance         decimal.Decimal  `json:"balance"`
	Rate            *decimal.Decimal `json:"rate,omitempty"`
	Period          RatePeriod       `json:"period,omitempty"`
	LastAccrualDate string           `json:"last_accrual_date,omitempty"`
}

// BillEffect records a bill payment so it can be reversed.
type BillEffect struct {
	BillID         int64           `json:"bill_id"`
	PaidDelta      decimal.Decimal `json:"paid_delta"`
	PreviousStatus BillStatus      `json:"previous_status"`
}

// Effects is the structured record of everything an entry changed. It is
// the sole source of truth for reversal.
type Effects struct {
	Kind         EffectKind      `json:"kind"`
	AccountDelta decimal.Decimal `json:"account_delta"`
	Deltas       []BalanceDelta  `json:"deltas,omitempty"`
	Entity       *EntitySnapshot `json:"entity,omitempty"`
	Bill         *BillEffect     `json:"bill,omitempty"`
}

// DeltaEffects builds a delta-only descriptor.
func DeltaEffects(account decimal.Decimal, deltas ...BalanceDelta) *Effects {
	return &Effects{Kind: EffectDelta, AccountDelta: account, Deltas: deltas}
}

// CreateEffects records the creation of an entity.
func CreateEffects(snap EntitySnapshot) *Effects {
	return &Effects{Kind: EffectCreate, AccountDelta: decimal.Zero, Entity: &snap}
}

// DeleteEffects records the deletion of an entity.
func DeleteEffects(snap EntitySnapshot) *Effects {
	return &Effects{Kind: EffectDelete, AccountDelta: decimal.Zero, Entity: &snap}
}

// PocketSnapshot captures a pocket for the effects descriptor.
func PocketSnapshot(p *Pocket) EntitySnapshot {
	return EntitySnapshot{Type: EntityPocket, Name: p.Name, Balance: p.Balance}
}

// InvestmentSnapshot captures an investment including its rate, period and
// watermark so a rollback recreates it identically.
func InvestmentSnapshot(inv *Investment) EntitySnapshot {
	rate := inv.Rate
	return EntitySnapshot{
		Type:            EntityInvestment,
		Name:            inv.Name,
		Balance:         inv.Balance,
		Rate:            &rate,
		Period:          inv.Period,
		LastAccrualDate: FormatDate(inv.LastAccrualDate),
	}
}

// ============================================================
// Read models
// ============================================================

// CategoryTotal aggregates entries of one kind and category.
type CategoryTotal struct {
	Category string          `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Count    int             `json:"count"`
}

// Summary aggregates income and expenses over a date range.
type Summary struct {
	From               string          `json:"from"`
	To                 string          `json:"to"`
	Income             decimal.Decimal `json:"income"`
	Expenses           decimal.Decimal `json:"expenses"`
	Net                decimal.Decimal `json:"net"`
	IncomeByCategory   []CategoryTotal `json:"income_by_category,omitempty"`
	ExpensesByCategory []CategoryTotal `json:"expenses_by_category,omitempty"`
}

// ============================================================
// Results
// ============================================================

// RecordResult is returned by income and expense postings.
type RecordResult struct {
	Entry          Entry           `json:"entry"`
	AccountBalance decimal.Decimal `json:"account_balance"`
}

// MovementResult is returned by transfers between the account and a pocket
// or investment.
type MovementResult struct {
	Entry          Entry           `json:"entry"`
	Target         string          `json:"target"`
	AccountBalance decimal.Decimal `json:"account_balance"`
	TargetBalance  decimal.Decimal `json:"target_balance"`
}

// PocketResult is returned by CreatePocket. Entry is nil when the pocket
// already existed.
type PocketResult struct {
	Pocket  Pocket `json:"pocket"`
	Created bool   `json:"created"`
	Entry   *Entry `json:"entry,omitempty"`
}

// InvestmentResult is returned by CreateInvestment.
type InvestmentResult struct {
	Investment Investment `json:"investment"`
	Created    bool       `json:"created"`
	Entry      *Entry     `json:"entry,omitempty"`
}

// Overview is the full balance picture of a user.
type Overview struct {
	Account     decimal.Decimal `json:"account"`
	Pockets     []Pocket        `json:"pockets"`
	Investments []Investment    `json:"investments"`
	Total       decimal.Decimal `json:"total"`
	Display     string          `json:"display"`
}
