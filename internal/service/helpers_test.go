package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/infra/cache"
	"github.com/boddenberg/pocket-ledger/internal/infra/observability"
	"github.com/boddenberg/pocket-ledger/internal/infra/sqlite"
	"github.com/boddenberg/pocket-ledger/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Fakes ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// fakeSource serves benchmark percentages from a fixed table.
type fakeSource struct {
	rates   map[string]decimal.Decimal
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (f *fakeSource) RatesFor(ctx context.Context, from, to time.Time) (map[string]decimal.Decimal, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]decimal.Decimal{}
	for d := domain.DateOf(from); !d.After(to); d = d.AddDate(0, 0, 1) {
		if v, ok := f.rates[domain.FormatDate(d)]; ok {
			out[domain.FormatDate(d)] = v
		}
	}
	return out, nil
}

// --- Harness ---

type env struct {
	ctx      context.Context
	clock    *fakeClock
	store    *sqlite.Store
	source   *fakeSource
	cache    *cache.InMemory[string, decimal.Decimal]
	metrics  *observability.Metrics
	accrual  *service.AccrualEngine
	ledger   *service.LedgerService
	rollback *service.RollbackService
	credit   *service.CreditService
	pending  *service.PendingService
}

// monday is 2024-03-04, a Monday.
var monday = time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)

func newEnv(t *testing.T) *env {
	return newEnvAt(t, sqlite.MemoryPath, 0)
}

func newEnvAt(t *testing.T, path string, maxConns int) *env {
	return newEnvWith(t, path, maxConns, time.UTC, monday)
}

// newEnvIn runs the services on a calendar in loc, starting at now.
func newEnvIn(t *testing.T, loc *time.Location, now time.Time) *env {
	return newEnvWith(t, sqlite.MemoryPath, 0, loc, now)
}

func newEnvWith(t *testing.T, path string, maxConns int, loc *time.Location, now time.Time) *env {
	t.Helper()
	ctx := context.Background()
	clk := &fakeClock{t: now}
	store, err := sqlite.Open(ctx, sqlite.Options{Path: path, MaxConns: maxConns, Now: clk.Now}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	c := cache.New[string, decimal.Decimal](time.Hour)
	t.Cleanup(c.Close)

	e := &env{
		ctx:     ctx,
		clock:   clk,
		store:   store,
		source:  &fakeSource{rates: map[string]decimal.Decimal{}},
		cache:   c,
		metrics: observability.NewMetrics(),
	}
	logger := zap.NewNop()
	sc := service.NewClock(clk.Now, loc)
	e.accrual = service.NewAccrualEngine(store, e.source, c, e.metrics, logger)
	e.ledger = service.NewLedgerService(store, e.accrual, sc, e.metrics, logger)
	e.rollback = service.NewRollbackService(store, e.accrual, sc, e.metrics, logger)
	e.credit = service.NewCreditService(store, sc, e.metrics, logger)
	e.pending = service.NewPendingService(store, e.ledger, e.rollback, sc, 0, e.metrics, logger)
	return e
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (e *env) income(t *testing.T, user, amount string) {
	t.Helper()
	_, err := e.ledger.Record(e.ctx, user, domain.KindIncome, dec(amount), "salary", "")
	require.NoError(t, err)
}

// total is the sum of every balance of the user.
func (e *env) total(t *testing.T, user string) decimal.Decimal {
	t.Helper()
	ov, err := e.ledger.Balance(e.ctx, user)
	require.NoError(t, err)
	return ov.Total
}
