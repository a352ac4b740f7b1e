package port

import (
	"context"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"

	"github.com/shopspring/decimal"
)

// AccountStore handles users and their cash account.
type AccountStore interface {
	// EnsureUser creates the user and its zero-balance account if missing.
	EnsureUser(ctx context.Context, userID string) error
	// LockAccount reads the account for update.
	LockAccount(ctx context.Context, userID string) (*domain.Account, error)
	// AddToAccount applies delta and returns the new balance.
	AddToAccount(ctx context.Context, userID string, delta decimal.Decimal) (decimal.Decimal, error)
}

// PocketStore handles pockets. Lookups are by folded name key and return
// nil, nil when absent.
type PocketStore interface {
	GetPocket(ctx context.Context, userID, name string) (*domain.Pocket, error)
	ListPockets(ctx context.Context, userID string) ([]domain.Pocket, error)
	// InsertPocket inserts unless the name key exists; created is false when
	// the existing row is returned instead.
	InsertPocket(ctx context.Context, userID, name string, balance decimal.Decimal) (p *domain.Pocket, created bool, err error)
	AddToPocket(ctx context.Context, pocketID int64, delta decimal.Decimal) (decimal.Decimal, error)
	DeletePocket(ctx context.Context, pocketID int64) error
}

// InvestmentStore handles investments.
type InvestmentStore interface {
	GetInvestment(ctx context.Context, userID, name string) (*domain.Investment, error)
	ListInvestments(ctx context.Context, userID string) ([]domain.Investment, error)
	InsertInvestment(ctx context.Context, inv *domain.Investment) (stored *domain.Investment, created bool, err error)
	// SaveAccrual persists balance and watermark together.
	SaveAccrual(ctx context.Context, investmentID int64, balance decimal.Decimal, watermark time.Time) error
	AddToInvestment(ctx context.Context, investmentID int64, delta decimal.Decimal) (decimal.Decimal, error)
	DeleteInvestment(ctx context.Context, investmentID int64) error
}

// EntryStore handles ledger entries.
type EntryStore interface {
	InsertEntry(ctx context.Context, e *domain.Entry) (int64, error)
	GetEntry(ctx context.Context, userID string, id int64) (*domain.Entry, error)
	LatestEntry(ctx context.Context, userID string) (*domain.Entry, error)
	ListEntries(ctx context.Context, userID string, limit int) ([]domain.Entry, error)
	// EntriesBetween returns entries created in the instant range [start, end).
	EntriesBetween(ctx context.Context, userID string, start, end time.Time) ([]domain.Entry, error)
	DeleteEntry(ctx context.Context, userID string, id int64) error
}
