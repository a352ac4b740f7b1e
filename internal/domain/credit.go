package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Credit cards & billing cycles
// ============================================================

// CreditCard is a user's card with its billing calendar.
type CreditCard struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Name       string    `json:"name"`
	ClosingDay int       `json:"closing_day"`
	DueDay     int       `json:"due_day"`
	IsDefault  bool      `json:"is_default"`
	CreatedAt  time.Time `json:"created_at"`
}

// ValidateCardDay checks a closing or due day is within 1..28.
func ValidateCardDay(field string, day int) error {
	if day < 1 || day > 28 {
		return &ErrValidation{Field: field, Message: fmt.Sprintf("must be between 1 and 28, got %d", day)}
	}
	return nil
}

// BillStatus is the lifecycle state of a bill.
type BillStatus string

const (
	BillOpen   BillStatus = "open"
	BillClosed BillStatus = "closed"
	BillPaid   BillStatus = "paid"
)

// CreditBill aggregates the transactions of one card cycle.
type CreditBill struct {
	ID          int64           `json:"id"`
	UserID      string          `json:"user_id"`
	CardID      int64           `json:"card_id"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	DueDate     time.Time       `json:"due_date"`
	Total       decimal.Decimal `json:"total"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Status      BillStatus      `json:"status"`
}

// Due returns total minus what has been paid.
func (b *CreditBill) Due() decimal.Decimal {
	return b.Total.Sub(b.PaidAmount)
}

// Period returns the bill's cycle.
func (b *CreditBill) Period() Period {
	return Period{Start: b.PeriodStart, End: b.PeriodEnd}
}

// CreditTxKind classifies a credit transaction.
type CreditTxKind string

const (
	CreditPurchase    CreditTxKind = "purchase"
	CreditInstallment CreditTxKind = "installment"
	CreditRefund      CreditTxKind = "refund"
)

// CreditTransaction is a purchase, a refund or one installment of a split
// purchase, linked to exactly one bill.
type CreditTransaction struct {
	ID                int64           `json:"id"`
	UserID            string          `json:"user_id"`
	CardID            int64           `json:"card_id"`
	BillID            int64           `json:"bill_id"`
	Kind              CreditTxKind    `json:"kind"`
	Amount            decimal.Decimal `json:"amount"`
	Category          string          `json:"category,omitempty"`
	Note              string          `json:"note,omitempty"`
	PurchaseDate      time.Time       `json:"purchase_date"`
	GroupID           string          `json:"group_id"`
	InstallmentNo     int             `json:"installment_no"`
	InstallmentsTotal int             `json:"installments_total"`
	CreatedAt         time.Time       `json:"created_at"`
}

// SplitInstallments divides total into n fixed-point shares truncated to
// cents. The rounding remainder goes on the last share, so the shares
// always sum to total exactly.
func SplitInstallments(total decimal.Decimal, n int) ([]decimal.Decimal, error) {
	if n < 1 {
		return nil, &ErrValidation{Field: "installments", Message: "must be at least 1"}
	}
	share := total.Div(decimal.NewFromInt(int64(n))).Truncate(2)
	shares := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	for i := 0; i < n-1; i++ {
		shares[i] = share
		allocated = allocated.Add(share)
	}
	shares[n-1] = total.Sub(allocated)
	return shares, nil
}

// ============================================================
// Results
// ============================================================

// PurchaseResult is returned when a purchase or refund is posted.
type PurchaseResult struct {
	Transaction CreditTransaction `json:"transaction"`
	Bill        CreditBill        `json:"bill"`
	Reopened    bool              `json:"reopened"`
}

// InstallmentsResult is returned when a split purchase is posted.
type InstallmentsResult struct {
	GroupID      string              `json:"group_id"`
	Transactions []CreditTransaction `json:"transactions"`
	Bills        []CreditBill        `json:"bills"`
}

// PaymentResult is returned by a bill payment.
type PaymentResult struct {
	Bill           *CreditBill     `json:"bill,omitempty"`
	Paid           decimal.Decimal `json:"paid"`
	NothingDue     bool            `json:"nothing_due"`
	Entry          *Entry          `json:"entry,omitempty"`
	AccountBalance decimal.Decimal `json:"account_balance"`
}

// BillSummary is a bill together with its transactions.
type BillSummary struct {
	Card         CreditCard          `json:"card"`
	Period       Period              `json:"period"`
	Bill         *CreditBill         `json:"bill,omitempty"`
	Transactions []CreditTransaction `json:"transactions"`
}

// RevertResult is returned when a purchase group is reversed.
type RevertResult struct {
	GroupID string       `json:"group_id"`
	Removed int          `json:"removed"`
	Bills   []CreditBill `json:"bills"`
}
