package port

import (
	"context"

	"github.com/boddenberg/pocket-ledger/internal/domain"
)

// CreditCardStore handles credit card data operations.
type CreditCardStore interface {
	InsertCard(ctx context.Context, card *domain.CreditCard) (*domain.CreditCard, error)
	GetCard(ctx context.Context, userID, name string) (*domain.CreditCard, error)
	GetDefaultCard(ctx context.Context, userID string) (*domain.CreditCard, error)
	ListCards(ctx context.Context, userID string) ([]domain.CreditCard, error)
	SetDefaultCard(ctx context.Context, userID string, cardID int64) error
}

// CreditBillStore handles bills. GetBill returns nil, nil when the cycle has
// no bill yet.
type CreditBillStore interface {
	GetBill(ctx context.Context, cardID int64, period domain.Period) (*domain.CreditBill, error)
	GetBillByID(ctx context.Context, billID int64) (*domain.CreditBill, error)
	InsertBill(ctx context.Context, bill *domain.CreditBill) (*domain.CreditBill, error)
	UpdateBill(ctx context.Context, bill *domain.CreditBill) error
}

// CreditTransactionStore handles purchases, refunds and installments.
type CreditTransactionStore interface {
	InsertCreditTx(ctx context.Context, tx *domain.CreditTransaction) (int64, error)
	ListCreditTxByBill(ctx context.Context, billID int64) ([]domain.CreditTransaction, error)
	ListCreditTxByGroup(ctx context.Context, userID, groupID string) ([]domain.CreditTransaction, error)
	DeleteCreditTx(ctx context.Context, id int64) error
}
