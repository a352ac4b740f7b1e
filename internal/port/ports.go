// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerStore is the single transactional store behind the core.
type LedgerStore interface {
	// WithTx runs fn inside one atomic transaction. Any error returned by fn
	// rolls everything back. Store-level failures come back as
	// *domain.ErrTransient.
	WithTx(ctx context.Context, op string, fn func(tx Tx) error) error

	// View runs read-only fn without opening a write transaction.
	View(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error

	RateStore
}

// Tx is the set of operations available inside a store transaction. Rows
// must be touched in the order account, pocket/investment, bill.
type Tx interface {
	AccountStore
	PocketStore
	InvestmentStore
	EntryStore
	CreditCardStore
	CreditBillStore
	CreditTransactionStore
	PendingActionStore
}

// BenchmarkSource returns per-day benchmark percentages (e.g. the CDI)
// keyed by YYYY-MM-DD. Days without a published value are absent.
type BenchmarkSource interface {
	RatesFor(ctx context.Context, from, to time.Time) (map[string]decimal.Decimal, error)
}

// RateStore persists benchmark percentages already fetched.
type RateStore interface {
	LoadRates(ctx context.Context, from, to time.Time) (map[string]decimal.Decimal, error)
	SaveRates(ctx context.Context, rates map[string]decimal.Decimal) error
}

// Cache provides generic caching with TTL.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Delete(key K)
}
