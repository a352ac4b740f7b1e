package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/infra/observability"
	"github.com/boddenberg/pocket-ledger/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var accrualTracer = otel.Tracer("service/accrual")

const (
	businessDaysPerMonth = 21
	businessDaysPerYear  = 252
)

// RateTable maps YYYY-MM-DD to the benchmark percentage of that day.
type RateTable map[string]decimal.Decimal

// AccrualEngine advances investment balances over elapsed business days.
// Benchmark rates for index-linked positions are looked up in three
// layers: the in-process cache, the rate table of the store, and finally
// the external source for the days still missing.
type AccrualEngine struct {
	store   port.LedgerStore
	source  port.BenchmarkSource
	cache   port.Cache[string, decimal.Decimal]
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewAccrualEngine creates an accrual engine. source may be nil, in which
// case days not already stored are treated as unpublished.
func NewAccrualEngine(store port.LedgerStore, source port.BenchmarkSource, cache port.Cache[string, decimal.Decimal], metrics *observability.Metrics, logger *zap.Logger) *AccrualEngine {
	return &AccrualEngine{
		store:   store,
		source:  source,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

// DailyRate converts a nominal rate into the effective rate per business
// day. Index-linked rates are multipliers and have no fixed daily rate.
func DailyRate(rate decimal.Decimal, period domain.RatePeriod) (float64, error) {
	r := rate.InexactFloat64()
	switch period {
	case domain.PeriodDaily:
		return r, nil
	case domain.PeriodMonthly:
		return math.Pow(1+r, 1.0/businessDaysPerMonth) - 1, nil
	case domain.PeriodYearly:
		return math.Pow(1+r, 1.0/businessDaysPerYear) - 1, nil
	}
	return 0, &domain.ErrValidation{Field: "period", Message: fmt.Sprintf("no fixed daily rate for %q", period)}
}

// compoundPrecision is the number of fractional digits kept while raising
// the daily factor to the number of elapsed days.
const compoundPrecision = 18

// dailyFactor returns 1 + the per-business-day rate. Only the monthly and
// yearly roots go through float64.
func dailyFactor(rate decimal.Decimal, period domain.RatePeriod) (decimal.Decimal, error) {
	if period == domain.PeriodDaily {
		return decimal.NewFromInt(1).Add(rate), nil
	}
	daily, err := DailyRate(rate, period)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(1 + daily), nil
}

// Advance computes inv brought forward to target without touching any
// store. It returns the updated copy, the number of days compounded and
// whether anything (balance or watermark) changed.
//
// Zero elapsed business days is a full no-op. Fixed-rate positions with a
// balance <= 0 are not compounded but their watermark still moves, and the
// same holds for index-linked positions.
func Advance(inv domain.Investment, target time.Time, rates RateTable) (domain.Investment, int, bool, error) {
	target = domain.DateOf(target)
	watermark := domain.DateOf(inv.LastAccrualDate)
	n := domain.BusinessDaysBetween(watermark, target)
	if n == 0 {
		return inv, 0, false, nil
	}

	out := inv
	out.LastAccrualDate = target

	if inv.Period == domain.PeriodIndexLinked {
		if !inv.Balance.IsPositive() {
			return out, 0, true, nil
		}
		hundred := decimal.NewFromInt(100)
		balance := inv.Balance
		applied := 0
		for d := watermark.AddDate(0, 0, 1); !d.After(target); d = d.AddDate(0, 0, 1) {
			pct, ok := rates[domain.FormatDate(d)]
			if !ok {
				continue
			}
			balance = balance.Mul(decimal.NewFromInt(1).Add(inv.Rate.Mul(pct).Div(hundred)))
			applied++
		}
		out.Balance = balance.Round(domain.MoneyScale)
		return out, applied, true, nil
	}

	if !inv.Balance.IsPositive() {
		return out, 0, true, nil
	}
	base, err := dailyFactor(inv.Rate, inv.Period)
	if err != nil {
		return inv, 0, false, err
	}
	factor, err := base.PowWithPrecision(decimal.NewFromInt(int64(n)), compoundPrecision)
	if err != nil {
		return inv, 0, false, err
	}
	out.Balance = inv.Balance.Mul(factor).Round(domain.MoneyScale)
	return out, n, true, nil
}

// Accrue brings inv current to today inside tx and persists balance and
// watermark together. inv is updated in place.
func (e *AccrualEngine) Accrue(ctx context.Context, tx port.Tx, inv *domain.Investment, today time.Time, rates RateTable) error {
	ctx, span := accrualTracer.Start(ctx, "AccrualEngine.Accrue")
	defer span.End()
	span.SetAttributes(
		attribute.String("investment.name", inv.Name),
		attribute.String("investment.period", string(inv.Period)),
	)

	next, days, changed, err := Advance(*inv, today, rates)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := tx.SaveAccrual(ctx, inv.ID, next.Balance, next.LastAccrualDate); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.AddAccrualDays(inv.Period, days)
	}
	e.logger.Debug("investment accrued",
		zap.String("user_id", inv.UserID),
		zap.String("investment", inv.Name),
		zap.Int("days", days),
		zap.String("before", inv.Balance.String()),
		zap.String("after", next.Balance.String()),
	)
	*inv = next
	return nil
}

// Prefetch loads the benchmark rates needed to accrue the named
// investments of a user up to today (all of them when names is empty). It
// runs before any write transaction so that no network call happens while
// the store is locked.
func (e *AccrualEngine) Prefetch(ctx context.Context, userID string, today time.Time, names ...string) (RateTable, error) {
	ctx, span := accrualTracer.Start(ctx, "AccrualEngine.Prefetch")
	defer span.End()

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[domain.NameKey(n)] = true
	}

	var from time.Time
	err := e.store.View(ctx, func(tx port.Tx) error {
		invs, err := tx.ListInvestments(ctx, userID)
		if err != nil {
			return err
		}
		for _, inv := range invs {
			if inv.Period != domain.PeriodIndexLinked || !inv.LastAccrualDate.Before(today) {
				continue
			}
			if len(wanted) > 0 && !wanted[domain.NameKey(inv.Name)] {
				continue
			}
			if from.IsZero() || inv.LastAccrualDate.Before(from) {
				from = inv.LastAccrualDate
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if from.IsZero() {
		return RateTable{}, nil
	}
	return e.RatesFor(ctx, from.AddDate(0, 0, 1), today)
}

// RatesFor returns the benchmark percentages published for business days
// in from..to. Unpublished days are absent.
func (e *AccrualEngine) RatesFor(ctx context.Context, from, to time.Time) (RateTable, error) {
	ctx, span := accrualTracer.Start(ctx, "AccrualEngine.RatesFor")
	defer span.End()

	from, to = domain.DateOf(from), domain.DateOf(to)
	out := RateTable{}
	var missing []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if !domain.IsBusinessDay(d) {
			continue
		}
		key := domain.FormatDate(d)
		if v, ok := e.cacheGet(key); ok {
			out[key] = v
			continue
		}
		missing = append(missing, d)
	}
	span.SetAttributes(attribute.Int("rates.cached", len(out)), attribute.Int("rates.missing", len(missing)))
	if len(missing) == 0 {
		return out, nil
	}

	stored, err := e.store.LoadRates(ctx, missing[0], missing[len(missing)-1])
	if err != nil {
		return nil, err
	}
	missing = e.fill(out, missing, stored, "store")
	if len(missing) == 0 || e.source == nil {
		return out, nil
	}

	lo, hi := missing[0], missing[len(missing)-1]
	key := domain.FormatDate(lo) + ".." + domain.FormatDate(hi)
	v, err, _ := e.group.Do(key, func() (any, error) {
		fetched, err := e.source.RatesFor(ctx, lo, hi)
		if err != nil {
			return nil, err
		}
		if err := e.store.SaveRates(ctx, fetched); err != nil {
			e.logger.Warn("could not persist benchmark rates", zap.String("range", key), zap.Error(err))
		}
		return fetched, nil
	})
	if err != nil {
		var ext *domain.ErrExternalService
		if !errors.As(err, &ext) {
			err = &domain.ErrExternalService{Service: "benchmark", Err: err}
		}
		return nil, err
	}

	e.fill(out, missing, v.(map[string]decimal.Decimal), "source")
	return out, nil
}

// fill copies the rates of the missing days found in src into out and the
// cache, returning the days still missing.
func (e *AccrualEngine) fill(out RateTable, missing []time.Time, src map[string]decimal.Decimal, layer string) []time.Time {
	var still []time.Time
	for _, d := range missing {
		key := domain.FormatDate(d)
		v, ok := src[key]
		if !ok {
			still = append(still, d)
			continue
		}
		out[key] = v
		if e.cache != nil {
			e.cache.Set(key, v)
		}
	}
	if len(still) < len(missing) {
		e.logger.Debug("benchmark rates loaded",
			zap.String("layer", layer),
			zap.Int("days", len(missing)-len(still)),
		)
	}
	return still
}

func (e *AccrualEngine) cacheGet(key string) (decimal.Decimal, bool) {
	if e.cache == nil {
		return decimal.Zero, false
	}
	v, ok := e.cache.Get(key)
	if e.metrics != nil {
		if ok {
			e.metrics.IncrCacheHit("rates")
		} else {
			e.metrics.IncrCacheMiss("rates")
		}
	}
	return v, ok
}
