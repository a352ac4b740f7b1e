package service_test

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_IncomeAndExpense(t *testing.T) {
	e := newEnv(t)

	res, err := e.ledger.Record(e.ctx, "u1", domain.KindIncome, dec("1000"), "Salary", "march")
	require.NoError(t, err)
	assert.True(t, res.AccountBalance.Equal(dec("1000")))
	assert.NotZero(t, res.Entry.ID)

	res, err = e.ledger.Record(e.ctx, "u1", domain.KindExpense, dec("1200.50"), "rent", "")
	require.NoError(t, err)
	assert.True(t, res.AccountBalance.Equal(dec("-200.50")), "expenses may overdraw the account")
	require.NotNil(t, res.Entry.Effects)
	assert.True(t, res.Entry.Effects.AccountDelta.Equal(dec("-1200.50")))

	assert.EqualValues(t, 2, e.metrics.GetLedgerSnapshot().EntriesWritten)
}

func TestRecord_Rejections(t *testing.T) {
	e := newEnv(t)

	_, err := e.ledger.Record(e.ctx, "u1", domain.KindIncome, dec("0"), "x", "")
	var amt *domain.ErrInvalidAmount
	assert.True(t, errors.As(err, &amt))

	_, err = e.ledger.Record(e.ctx, "u1", domain.KindIncome, dec("-5"), "x", "")
	assert.True(t, errors.As(err, &amt))

	_, err = e.ledger.Record(e.ctx, "u1", domain.KindIncome, dec("5"), "  ", "")
	var val *domain.ErrValidation
	assert.True(t, errors.As(err, &val))

	_, err = e.ledger.Record(e.ctx, "u1", domain.KindPocketDeposit, dec("5"), "x", "")
	assert.True(t, errors.As(err, &val))

	_, err = e.ledger.Record(e.ctx, "", domain.KindIncome, dec("5"), "x", "")
	assert.True(t, errors.As(err, &val))
}

func TestPocketDeposit_Conservation(t *testing.T) {
	e := newEnv(t)
	e.income(t, "u1", "500")
	_, err := e.ledger.CreatePocket(e.ctx, "u1", "Emergency", "")
	require.NoError(t, err)

	before := e.total(t, "u1")
	res, err := e.ledger.PocketDeposit(e.ctx, "u1", "emergency", dec("120.25"), "")
	require.NoError(t, err)
	assert.Equal(t, "Emergency", res.Target)
	assert.True(t, res.AccountBalance.Equal(dec("379.75")))
	assert.True(t, res.TargetBalance.Equal(dec("120.25")))
	assert.True(t, before.Equal(e.total(t, "u1")), "transfers keep the total unchanged")

	res, err = e.ledger.PocketWithdraw(e.ctx, "u1", "EMERGENCY", dec("20.25"), "")
	require.NoError(t, err)
	assert.True(t, res.TargetBalance.Equal(dec("100")))
	assert.True(t, before.Equal(e.total(t, "u1")))
}

func TestPocketMove_InsufficientFunds(t *testing.T) {
	e := newEnv(t)
	e.income(t, "u1", "50")
	_, err := e.ledger.CreatePocket(e.ctx, "u1", "trip", "")
	require.NoError(t, err)

	_, err = e.ledger.PocketDeposit(e.ctx, "u1", "trip", dec("50.01"), "")
	var ins *domain.ErrInsufficientFunds
	require.True(t, errors.As(err, &ins))
	assert.Equal(t, "account", ins.Source)

	_, err = e.ledger.PocketWithdraw(e.ctx, "u1", "trip", dec("1"), "")
	require.True(t, errors.As(err, &ins))
	assert.Equal(t, "pocket trip", ins.Source)

	ov, err := e.ledger.Balance(e.ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ov.Account.Equal(dec("50")), "rejections leave balances untouched")
}

func TestPocketMove_UnknownPocketSuggestsName(t *testing.T) {
	e := newEnv(t)
	e.income(t, "u1", "50")
	_, err := e.ledger.CreatePocket(e.ctx, "u1", "Vacation", "")
	require.NoError(t, err)

	_, err = e.ledger.PocketDeposit(e.ctx, "u1", "vacaton", dec("1"), "")
	var nf *domain.ErrNotFound
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "Vacation", nf.Suggestion)
}

func TestCreatePocket_ExistingNameIsReturned(t *testing.T) {
	e := newEnv(t)

	first, err := e.ledger.CreatePocket(e.ctx, "u1", "  House   Fund ", "")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, "House Fund", first.Pocket.Name)
	require.NotNil(t, first.Entry)

	again, err := e.ledger.CreatePocket(e.ctx, "u1", "house fund", "")
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Nil(t, again.Entry)
	assert.Equal(t, first.Pocket.ID, again.Pocket.ID)

	entries, err := e.ledger.ListEntries(e.ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTripPocketScenario(t *testing.T) {
	e := newEnv(t)
	e.income(t, "u1", "1000")

	_, err := e.ledger.CreatePocket(e.ctx, "u1", "trip", "")
	require.NoError(t, err)
	_, err = e.ledger.PocketDeposit(e.ctx, "u1", "trip", dec("300"), "")
	require.NoError(t, err)
	_, err = e.ledger.PocketWithdraw(e.ctx, "u1", "trip", dec("300"), "")
	require.NoError(t, err)

	entry, err := e.ledger.DeletePocket(e.ctx, "u1", "trip", "")
	require.NoError(t, err)
	assert.Equal(t, domain.KindDeletePocket, entry.Kind)

	_, err = e.ledger.CreatePocket(e.ctx, "u1", "trip", "")
	require.NoError(t, err)
	_, err = e.ledger.PocketDeposit(e.ctx, "u1", "trip", dec("0.01"), "")
	require.NoError(t, err)

	_, err = e.ledger.DeletePocket(e.ctx, "u1", "trip", "")
	var nzb *domain.ErrNotZeroBalance
	require.True(t, errors.As(err, &nzb))
	assert.True(t, nzb.Balance.Equal(dec("0.01")))
}

func TestDeletePocket_NegativeBalanceIsNotZero(t *testing.T) {
	e := newEnv(t)
	e.income(t, "u1", "10")
	_, err := e.ledger.CreatePocket(e.ctx, "u1", "odd", "")
	require.NoError(t, err)
	dep, err := e.ledger.PocketDeposit(e.ctx, "u1", "odd", dec("10"), "")
	require.NoError(t, err)
	_, err = e.ledger.PocketWithdraw(e.ctx, "u1", "odd", dec("10"), "")
	require.NoError(t, err)

	// Undoing the deposit after the withdrawal leaves the pocket at -10.
	_, err = e.rollback.Undo(e.ctx, "u1", dep.Entry.ID)
	require.NoError(t, err)

	_, err = e.ledger.DeletePocket(e.ctx, "u1", "odd", "")
	var nzb *domain.ErrNotZeroBalance
	require.True(t, errors.As(err, &nzb))
	assert.True(t, nzb.Balance.Equal(dec("-10")))
}

func TestInvestmentScenario_MonthlyRate(t *testing.T) {
	e := newEnv(t)
	e.income(t, "u1", "1000")

	_, err := e.ledger.CreateInvestment(e.ctx, "u1", "X", dec("0.01"), domain.PeriodMonthly, "")
	require.NoError(t, err)
	res, err := e.ledger.InvestmentDeposit(e.ctx, "u1", "x", dec("200"), "")
	require.NoError(t, err)
	assert.True(t, res.AccountBalance.Equal(dec("800")))
	assert.True(t, res.TargetBalance.Equal(dec("200")))

	// 2024-03-05 .. 2024-04-02 holds 21 business days.
	e.clock.Set(monday.AddDate(0, 0, 29))
	invs, err := e.ledger.ListInvestments(e.ctx, "u1")
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.InDelta(t, 202.0, invs[0].Balance.InexactFloat64(), 1e-6)
	assert.Equal(t, "2024-04-02", domain.FormatDate(invs[0].LastAccrualDate))
	assert.EqualValues(t, 21, e.metrics.GetLedgerSnapshot().AccrualDays)
}

func TestInvestmentDeposit_InsufficientAccount(t *testing.T) {
	e := newEnv(t)
	e.income(t, "u1", "10")
	_, err := e.ledger.CreateInvestment(e.ctx, "u1", "cdb", dec("0.12"), domain.PeriodYearly, "")
	require.NoError(t, err)

	_, err = e.ledger.InvestmentDeposit(e.ctx, "u1", "cdb", dec("11"), "")
	var ins *domain.ErrInsufficientFunds
	require.True(t, errors.As(err, &ins))
	assert.Equal(t, "account", ins.Source)

	_, err = e.ledger.InvestmentWithdraw(e.ctx, "u1", "cdb", dec("1"), "")
	require.True(t, errors.As(err, &ins))
}

func TestCreateInvestment_Validation(t *testing.T) {
	e := newEnv(t)
	var val *domain.ErrValidation

	_, err := e.ledger.CreateInvestment(e.ctx, "u1", "a", dec("0"), domain.PeriodDaily, "")
	assert.True(t, errors.As(err, &val))

	_, err = e.ledger.CreateInvestment(e.ctx, "u1", "a", dec("0.1"), domain.RatePeriod("weekly"), "")
	assert.True(t, errors.As(err, &val))

	_, err = e.ledger.CreateInvestment(e.ctx, "u1", "", dec("0.1"), domain.PeriodDaily, "")
	assert.True(t, errors.As(err, &val))
}

func TestDeleteInvestment_GuardsBalance(t *testing.T) {
	e := newEnv(t)
	e.income(t, "u1", "100")
	_, err := e.ledger.CreateInvestment(e.ctx, "u1", "lci", dec("0.001"), domain.PeriodDaily, "")
	require.NoError(t, err)
	_, err = e.ledger.InvestmentDeposit(e.ctx, "u1", "lci", dec("100"), "")
	require.NoError(t, err)

	_, err = e.ledger.DeleteInvestment(e.ctx, "u1", "lci", "")
	var nzb *domain.ErrNotZeroBalance
	require.True(t, errors.As(err, &nzb))

	_, err = e.ledger.InvestmentWithdraw(e.ctx, "u1", "lci", dec("100"), "")
	require.NoError(t, err)
	entry, err := e.ledger.DeleteInvestment(e.ctx, "u1", "lci", "")
	require.NoError(t, err)
	require.NotNil(t, entry.Effects.Entity)
	require.NotNil(t, entry.Effects.Entity.Rate)
	assert.True(t, entry.Effects.Entity.Rate.Equal(dec("0.001")))
	assert.Equal(t, domain.PeriodDaily, entry.Effects.Entity.Period)
}

func TestBalance_Overview(t *testing.T) {
	e := newEnv(t)

	ov, err := e.ledger.Balance(e.ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, ov.Total.IsZero())

	e.income(t, "u1", "1234.56")
	_, err = e.ledger.CreatePocket(e.ctx, "u1", "p", "")
	require.NoError(t, err)
	_, err = e.ledger.PocketDeposit(e.ctx, "u1", "p", dec("34.56"), "")
	require.NoError(t, err)

	ov, err = e.ledger.Balance(e.ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ov.Account.Equal(dec("1200")))
	require.Len(t, ov.Pockets, 1)
	assert.True(t, ov.Total.Equal(dec("1234.56")))
	assert.Equal(t, "R$1.234,56", ov.Display)
}

func TestSummary_GroupsByCategory(t *testing.T) {
	e := newEnv(t)
	for _, r := range []struct {
		kind     domain.EntryKind
		amount   string
		category string
	}{
		{domain.KindIncome, "3000", "salary"},
		{domain.KindExpense, "100", "Food"},
		{domain.KindExpense, "50", "food"},
		{domain.KindExpense, "900", "rent"},
	} {
		_, err := e.ledger.Record(e.ctx, "u1", r.kind, dec(r.amount), r.category, "")
		require.NoError(t, err)
	}

	sum, err := e.ledger.Summary(e.ctx, "u1", monday, monday)
	require.NoError(t, err)
	assert.True(t, sum.Income.Equal(dec("3000")))
	assert.True(t, sum.Expenses.Equal(dec("1050")))
	assert.True(t, sum.Net.Equal(dec("1950")))
	require.Len(t, sum.ExpensesByCategory, 2)
	assert.Equal(t, "rent", sum.ExpensesByCategory[0].Category)
	assert.Equal(t, 2, sum.ExpensesByCategory[1].Count)
	assert.True(t, sum.ExpensesByCategory[1].Total.Equal(dec("150")))

	_, err = e.ledger.Summary(e.ctx, "u1", monday, monday.AddDate(0, 0, -1))
	var val *domain.ErrValidation
	assert.True(t, errors.As(err, &val))
}

func TestEntriesBetween_FiltersByDay(t *testing.T) {
	e := newEnv(t)
	e.income(t, "u1", "1")
	e.clock.Set(monday.AddDate(0, 0, 2))
	e.income(t, "u1", "2")

	got, err := e.ledger.EntriesBetween(e.ctx, "u1", monday.AddDate(0, 0, 1), monday.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Amount.Equal(dec("2")))
}

func TestEntriesBetween_UsesLocalDays(t *testing.T) {
	cuiaba := time.FixedZone("America/Cuiaba", -4*60*60)
	late := time.Date(2024, 3, 4, 22, 0, 0, 0, cuiaba)
	e := newEnvIn(t, cuiaba, late)

	_, err := e.ledger.Record(e.ctx, "u1", domain.KindExpense, dec("50"), "food", "")
	require.NoError(t, err)
	e.clock.Set(time.Date(2024, 3, 5, 0, 30, 0, 0, cuiaba))
	e.income(t, "u1", "7")

	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	got, err := e.ledger.EntriesBetween(e.ctx, "u1", day, day)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Amount.Equal(dec("50")))

	sum, err := e.ledger.Summary(e.ctx, "u1", day, day)
	require.NoError(t, err)
	assert.True(t, sum.Expenses.Equal(dec("50")))
	assert.True(t, sum.Income.IsZero())

	next, err := e.ledger.EntriesBetween(e.ctx, "u1", day.AddDate(0, 0, 1), day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.True(t, next[0].Amount.Equal(dec("7")))
}

func TestConcurrentWithdrawalsFromSamePocket(t *testing.T) {
	e := newEnvAt(t, filepath.Join(t.TempDir(), "ledger.db"), 4)
	e.income(t, "u1", "100")
	_, err := e.ledger.CreatePocket(e.ctx, "u1", "shared", "")
	require.NoError(t, err)
	_, err = e.ledger.PocketDeposit(e.ctx, "u1", "shared", dec("100"), "")
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, fail int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.ledger.PocketWithdraw(e.ctx, "u1", "shared", dec("30"), "")
			mu.Lock()
			defer mu.Unlock()
			var ins *domain.ErrInsufficientFunds
			switch {
			case err == nil:
				ok++
			case errors.As(err, &ins):
				fail++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Equal(t, 7, fail)
	pockets, err := e.ledger.ListPockets(e.ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pockets, 1)
	assert.True(t, pockets[0].Balance.Equal(dec("10")))
	assert.True(t, e.total(t, "u1").Equal(dec("100")))
}
