package sqlite_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/infra/sqlite"
	"github.com/boddenberg/pocket-ledger/internal/port"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

type StoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *sqlite.Store
	now   time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)
	store, err := sqlite.Open(s.ctx, sqlite.Options{
		Path: sqlite.MemoryPath,
		Now:  func() time.Time { return s.now },
	}, zap.NewNop())
	s.Require().NoError(err)
	s.store = store
}

func (s *StoreSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func (s *StoreSuite) TestEnsureUserIsIdempotent() {
	err := s.store.WithTx(s.ctx, "test", func(tx port.Tx) error {
		s.Require().NoError(tx.EnsureUser(s.ctx, "u1"))
		s.Require().NoError(tx.EnsureUser(s.ctx, "u1"))
		acc, err := tx.LockAccount(s.ctx, "u1")
		s.Require().NoError(err)
		s.True(acc.Balance.IsZero())
		return nil
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestAccountDeltaKeepsExactDecimals() {
	err := s.store.WithTx(s.ctx, "test", func(tx port.Tx) error {
		s.Require().NoError(tx.EnsureUser(s.ctx, "u1"))
		_, err := tx.AddToAccount(s.ctx, "u1", dec("0.1"))
		s.Require().NoError(err)
		bal, err := tx.AddToAccount(s.ctx, "u1", dec("0.2"))
		s.Require().NoError(err)
		s.True(bal.Equal(dec("0.3")), "got %s", bal)
		return nil
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestRollbackOnError() {
	boom := errors.New("boom")
	err := s.store.WithTx(s.ctx, "test", func(tx port.Tx) error {
		s.Require().NoError(tx.EnsureUser(s.ctx, "u1"))
		_, err := tx.AddToAccount(s.ctx, "u1", dec("100"))
		s.Require().NoError(err)
		return boom
	})
	s.ErrorIs(err, boom)

	err = s.store.View(s.ctx, func(tx port.Tx) error {
		_, err := tx.LockAccount(s.ctx, "u1")
		return err
	})
	var nf *domain.ErrNotFound
	s.ErrorAs(err, &nf)
}

func (s *StoreSuite) TestPocketNamesAreCaseInsensitive() {
	err := s.store.WithTx(s.ctx, "test", func(tx port.Tx) error {
		s.Require().NoError(tx.EnsureUser(s.ctx, "u1"))
		p, created, err := tx.InsertPocket(s.ctx, "u1", "  Viagem   Europa ", decimal.Zero)
		s.Require().NoError(err)
		s.True(created)
		s.Equal("Viagem Europa", p.Name)

		again, created, err := tx.InsertPocket(s.ctx, "u1", "VIAGEM europa", dec("10"))
		s.Require().NoError(err)
		s.False(created)
		s.Equal(p.ID, again.ID)
		s.True(again.Balance.IsZero())

		got, err := tx.GetPocket(s.ctx, "u1", "viagem europa")
		s.Require().NoError(err)
		s.Require().NotNil(got)
		s.Equal(p.ID, got.ID)

		missing, err := tx.GetPocket(s.ctx, "u1", "carro")
		s.Require().NoError(err)
		s.Nil(missing)
		return nil
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestInvestmentAccrualRoundTrip() {
	err := s.store.WithTx(s.ctx, "test", func(tx port.Tx) error {
		s.Require().NoError(tx.EnsureUser(s.ctx, "u1"))
		inv, created, err := tx.InsertInvestment(s.ctx, &domain.Investment{
			UserID:          "u1",
			Name:            "CDB",
			Balance:         dec("1000"),
			Rate:            dec("1.10"),
			Period:          domain.PeriodIndexLinked,
			LastAccrualDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		})
		s.Require().NoError(err)
		s.True(created)

		watermark := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
		s.Require().NoError(tx.SaveAccrual(s.ctx, inv.ID, dec("1004.12345678"), watermark))

		got, err := tx.GetInvestment(s.ctx, "u1", "cdb")
		s.Require().NoError(err)
		s.True(got.Balance.Equal(dec("1004.12345678")))
		s.True(got.Rate.Equal(dec("1.1")))
		s.Equal(domain.PeriodIndexLinked, got.Period)
		s.Equal("2024-03-15", domain.FormatDate(got.LastAccrualDate))
		return nil
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestEntryEffectsRoundTrip() {
	amount := dec("25.50")
	entry := &domain.Entry{
		UserID: "u1",
		Kind:   domain.KindPocketDeposit,
		Amount: &amount,
		Target: "Viagem",
		Effects: domain.DeltaEffects(amount.Neg(), domain.BalanceDelta{
			Entity: domain.EntityPocket, Name: "Viagem", Delta: amount,
		}),
	}
	err := s.store.WithTx(s.ctx, "test", func(tx port.Tx) error {
		s.Require().NoError(tx.EnsureUser(s.ctx, "u1"))
		id, err := tx.InsertEntry(s.ctx, entry)
		s.Require().NoError(err)
		s.Positive(id)
		return nil
	})
	s.Require().NoError(err)

	err = s.store.View(s.ctx, func(tx port.Tx) error {
		got, err := tx.LatestEntry(s.ctx, "u1")
		s.Require().NoError(err)
		s.Equal(entry.ID, got.ID)
		s.Require().NotNil(got.Effects)
		s.Equal(domain.EffectDelta, got.Effects.Kind)
		s.True(got.Effects.AccountDelta.Equal(dec("-25.5")))
		s.Require().Len(got.Effects.Deltas, 1)
		s.True(got.Effects.Deltas[0].Delta.Equal(amount))
		s.True(got.Amount.Equal(amount))
		s.True(s.now.Equal(got.CreatedAt))

		inRange, err := tx.EntriesBetween(s.ctx, "u1", s.now, s.now.Add(time.Second))
		s.Require().NoError(err)
		s.Len(inRange, 1)
		before, err := tx.EntriesBetween(s.ctx, "u1", s.now.AddDate(0, 0, -3), s.now)
		s.Require().NoError(err)
		s.Empty(before)
		return nil
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestEntryWithoutEffects() {
	err := s.store.WithTx(s.ctx, "test", func(tx port.Tx) error {
		s.Require().NoError(tx.EnsureUser(s.ctx, "u1"))
		_, err := tx.InsertEntry(s.ctx, &domain.Entry{UserID: "u1", Kind: domain.KindIncome, Target: "legacy"})
		s.Require().NoError(err)
		got, err := tx.LatestEntry(s.ctx, "u1")
		s.Require().NoError(err)
		s.Nil(got.Effects)
		s.Nil(got.Amount)
		return nil
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestCardsAndBills() {
	err := s.store.WithTx(s.ctx, "test", func(tx port.Tx) error {
		s.Require().NoError(tx.EnsureUser(s.ctx, "u1"))
		nubank, err := tx.InsertCard(s.ctx, &domain.CreditCard{UserID: "u1", Name: "Nubank", ClosingDay: 5, DueDay: 12, IsDefault: true})
		s.Require().NoError(err)
		inter, err := tx.InsertCard(s.ctx, &domain.CreditCard{UserID: "u1", Name: "Inter", ClosingDay: 20, DueDay: 1})
		s.Require().NoError(err)

		_, err = tx.InsertCard(s.ctx, &domain.CreditCard{UserID: "u1", Name: "NUBANK", ClosingDay: 5, DueDay: 12})
		var exists *domain.ErrAlreadyExists
		s.ErrorAs(err, &exists)

		s.Require().NoError(tx.SetDefaultCard(s.ctx, "u1", inter.ID))
		def, err := tx.GetDefaultCard(s.ctx, "u1")
		s.Require().NoError(err)
		s.Equal(inter.ID, def.ID)

		period := domain.BillingPeriod(s.now, nubank.ClosingDay)
		bill, err := tx.GetBill(s.ctx, nubank.ID, period)
		s.Require().NoError(err)
		s.Nil(bill)

		bill, err = tx.InsertBill(s.ctx, &domain.CreditBill{
			UserID: "u1", CardID: nubank.ID,
			PeriodStart: period.Start, PeriodEnd: period.End,
			DueDate: domain.DueDate(period, nubank.ClosingDay, nubank.DueDay),
		})
		s.Require().NoError(err)
		s.Equal(domain.BillOpen, bill.Status)

		_, err = tx.InsertCreditTx(s.ctx, &domain.CreditTransaction{
			UserID: "u1", CardID: nubank.ID, BillID: bill.ID, Kind: domain.CreditPurchase,
			Amount: dec("99.90"), PurchaseDate: s.now, GroupID: "g1",
		})
		s.Require().NoError(err)

		bill.Total = dec("99.90")
		bill.Status = domain.BillClosed
		s.Require().NoError(tx.UpdateBill(s.ctx, bill))

		again, err := tx.GetBill(s.ctx, nubank.ID, period)
		s.Require().NoError(err)
		s.True(again.Total.Equal(dec("99.90")))
		s.Equal(domain.BillClosed, again.Status)

		txs, err := tx.ListCreditTxByBill(s.ctx, bill.ID)
		s.Require().NoError(err)
		s.Len(txs, 1)
		s.Equal(1, txs[0].InstallmentsTotal)
		return nil
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestPendingActionReplace() {
	err := s.store.WithTx(s.ctx, "test", func(tx port.Tx) error {
		s.Require().NoError(tx.EnsureUser(s.ctx, "u1"))
		first, _ := json.Marshal(domain.DeleteNamedPayload{Name: "Viagem"})
		s.Require().NoError(tx.PutPending(s.ctx, &domain.PendingAction{
			UserID: "u1", ActionType: domain.ActionDeletePocket, Payload: first, ExpiresAt: s.now.Add(10 * time.Minute),
		}))
		second, _ := json.Marshal(domain.DeleteEntryPayload{EntryID: 7})
		s.Require().NoError(tx.PutPending(s.ctx, &domain.PendingAction{
			UserID: "u1", ActionType: domain.ActionDeleteEntry, Payload: second, ExpiresAt: s.now.Add(10 * time.Minute),
		}))

		got, err := tx.GetPending(s.ctx, "u1")
		s.Require().NoError(err)
		s.Equal(domain.ActionDeleteEntry, got.ActionType)
		s.JSONEq(`{"entry_id":7}`, string(got.Payload))

		s.NotEmpty(got.ID)

		deleted, err := tx.DeletePendingIf(s.ctx, "u1", "stale-id")
		s.Require().NoError(err)
		s.False(deleted)
		got, err = tx.GetPending(s.ctx, "u1")
		s.Require().NoError(err)
		s.NotNil(got)

		s.Require().NoError(tx.DeletePending(s.ctx, "u1"))
		got, err = tx.GetPending(s.ctx, "u1")
		s.Require().NoError(err)
		s.Nil(got)
		return nil
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestRates() {
	rates := map[string]decimal.Decimal{
		"2024-03-11": dec("0.043739"),
		"2024-03-12": dec("0.043739"),
	}
	s.Require().NoError(s.store.SaveRates(s.ctx, rates))

	got, err := s.store.LoadRates(s.ctx,
		time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.Len(got, 1)
	s.True(got["2024-03-12"].Equal(dec("0.043739")))
}

func TestConcurrentWritersOnFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := sqlite.Open(ctx, sqlite.Options{Path: path, MaxConns: 4, BusyTimeout: 10 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithTx(ctx, "deposit", func(tx port.Tx) error {
				if err := tx.EnsureUser(ctx, "u1"); err != nil {
					return err
				}
				_, err := tx.AddToAccount(ctx, "u1", dec("1.5"))
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	err = store.View(ctx, func(tx port.Tx) error {
		acc, err := tx.LockAccount(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, acc.Balance.Equal(dec("30")), "got %s", acc.Balance)
		return nil
	})
	require.NoError(t, err)
}
