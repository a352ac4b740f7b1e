package observability_test

import (
	"testing"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/infra/observability"

	"github.com/stretchr/testify/assert"
)

func TestLedgerSnapshot(t *testing.T) {
	m := observability.NewMetrics()

	m.IncrEntry(domain.KindIncome)
	m.IncrEntry(domain.KindIncome)
	m.IncrEntry(domain.KindExpense)
	m.IncrRollback()
	m.IncrRejection("insufficient_funds")
	m.IncrTransient("record")
	m.AddAccrualDays(domain.PeriodYearly, 3)
	m.AddAccrualDays(domain.PeriodDaily, 0)
	m.IncrCacheHit("rates")
	m.IncrCacheHit("rates")
	m.IncrCacheHit("rates")
	m.IncrCacheMiss("rates")

	snap := m.GetLedgerSnapshot()
	assert.Equal(t, int64(3), snap.EntriesWritten)
	assert.Equal(t, int64(1), snap.Rollbacks)
	assert.Equal(t, int64(1), snap.DomainRejections)
	assert.Equal(t, int64(1), snap.TransientErrors)
	assert.Equal(t, int64(3), snap.AccrualDays)
	assert.InDelta(t, 0.75, snap.RateCacheHitRate, 1e-9)
	assert.Equal(t, float64(2), m.EntriesOfKind(domain.KindIncome))
}

func TestNewMetricsTwice(t *testing.T) {
	assert.NotPanics(t, func() {
		observability.NewMetrics()
		observability.NewMetrics()
	})
}

func TestNewLoggerUnknownLevel(t *testing.T) {
	logger := observability.NewLogger("nope", "json")
	assert.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(0))
}
