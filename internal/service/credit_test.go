package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCreateCard_DefaultAndDuplicates(t *testing.T) {
	e := newEnv(t)

	first, err := e.credit.CreateCard(e.ctx, "u1", "Nubank", 10, 17, false)
	require.NoError(t, err)
	assert.True(t, first.IsDefault, "the first card becomes the default")

	second, err := e.credit.CreateCard(e.ctx, "u1", "Inter", 5, 12, false)
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	_, err = e.credit.CreateCard(e.ctx, "u1", "nubank", 3, 9, false)
	var ae *domain.ErrAlreadyExists
	assert.True(t, errors.As(err, &ae))

	_, err = e.credit.CreateCard(e.ctx, "u1", "Other", 29, 9, false)
	var val *domain.ErrValidation
	assert.True(t, errors.As(err, &val))

	_, err = e.credit.SetDefaultCard(e.ctx, "u1", "inter")
	require.NoError(t, err)
	cards, err := e.credit.ListCards(e.ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cards, 2)
	for _, c := range cards {
		assert.Equal(t, c.Name == "Inter", c.IsDefault, c.Name)
	}
}

func TestRecordPurchase_ClosingDayTen(t *testing.T) {
	e := newEnv(t)
	_, err := e.credit.CreateCard(e.ctx, "u1", "visa", 10, 17, false)
	require.NoError(t, err)

	late, err := e.credit.RecordPurchase(e.ctx, "u1", "", dec("80"), "market", "", day(2024, 3, 12))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-11..2024-04-10", late.Bill.Period().String())
	assert.Equal(t, "2024-04-17", domain.FormatDate(late.Bill.DueDate))

	early, err := e.credit.RecordPurchase(e.ctx, "u1", "visa", dec("20"), "market", "", day(2024, 3, 5))
	require.NoError(t, err)
	assert.Equal(t, "2024-02-11..2024-03-10", early.Bill.Period().String())

	again, err := e.credit.RecordPurchase(e.ctx, "u1", "visa", dec("5"), "market", "", day(2024, 4, 10))
	require.NoError(t, err)
	assert.Equal(t, late.Bill.ID, again.Bill.ID)
	assert.True(t, again.Bill.Total.Equal(dec("85")))
}

func TestRecordPurchase_NoCard(t *testing.T) {
	e := newEnv(t)
	_, err := e.credit.RecordPurchase(e.ctx, "u1", "", dec("1"), "x", "", time.Time{})
	var nf *domain.ErrNotFound
	assert.True(t, errors.As(err, &nf))
}

func TestRecordInstallments_SumAndPeriods(t *testing.T) {
	e := newEnv(t)
	_, err := e.credit.CreateCard(e.ctx, "u1", "visa", 10, 17, false)
	require.NoError(t, err)

	res, err := e.credit.RecordInstallments(e.ctx, "u1", "visa", dec("100"), 3, "tv", "", day(2024, 3, 12))
	require.NoError(t, err)
	require.Len(t, res.Transactions, 3)
	assert.NotEmpty(t, res.GroupID)

	sum := decimal.Zero
	for i, ct := range res.Transactions {
		sum = sum.Add(ct.Amount)
		assert.Equal(t, res.GroupID, ct.GroupID)
		assert.Equal(t, i+1, ct.InstallmentNo)
		assert.Equal(t, 3, ct.InstallmentsTotal)
	}
	assert.True(t, sum.Equal(dec("100")))
	assert.True(t, res.Transactions[2].Amount.Equal(dec("33.34")))

	assert.Equal(t, "2024-03-11..2024-04-10", res.Bills[0].Period().String())
	assert.Equal(t, "2024-04-11..2024-05-10", res.Bills[1].Period().String())
	assert.Equal(t, "2024-05-11..2024-06-10", res.Bills[2].Period().String())
}

func TestRecordInstallments_Rejections(t *testing.T) {
	e := newEnv(t)
	_, err := e.credit.CreateCard(e.ctx, "u1", "visa", 10, 17, false)
	require.NoError(t, err)

	var val *domain.ErrValidation
	_, err = e.credit.RecordInstallments(e.ctx, "u1", "visa", dec("100"), 0, "x", "", time.Time{})
	assert.True(t, errors.As(err, &val))

	_, err = e.credit.RecordInstallments(e.ctx, "u1", "visa", dec("0.05"), 10, "x", "", time.Time{})
	assert.True(t, errors.As(err, &val), "shares of zero are refused")
}

func TestSplitInstallmentsProperty(t *testing.T) {
	for _, total := range []string{"0.01", "1", "99.99", "100", "1234.57", "0.07"} {
		for n := 1; n <= 12; n++ {
			shares, err := domain.SplitInstallments(dec(total), n)
			require.NoError(t, err)
			sum := decimal.Zero
			for _, s := range shares {
				sum = sum.Add(s)
			}
			assert.True(t, sum.Equal(dec(total)), "total %s n %d", total, n)
		}
	}
}

func TestRecordRefund_ReducesTotal(t *testing.T) {
	e := newEnv(t)
	_, err := e.credit.CreateCard(e.ctx, "u1", "visa", 10, 17, false)
	require.NoError(t, err)
	_, err = e.credit.RecordPurchase(e.ctx, "u1", "visa", dec("50"), "shoes", "", time.Time{})
	require.NoError(t, err)

	res, err := e.credit.RecordRefund(e.ctx, "u1", "visa", dec("20"), "returned", time.Time{})
	require.NoError(t, err)
	assert.True(t, res.Transaction.Amount.Equal(dec("-20")))
	assert.True(t, res.Bill.Total.Equal(dec("30")))
}

func TestRevertGroup(t *testing.T) {
	e := newEnv(t)
	_, err := e.credit.CreateCard(e.ctx, "u1", "visa", 10, 17, false)
	require.NoError(t, err)
	_, err = e.credit.RecordPurchase(e.ctx, "u1", "visa", dec("10"), "x", "", time.Time{})
	require.NoError(t, err)
	inst, err := e.credit.RecordInstallments(e.ctx, "u1", "visa", dec("90"), 3, "x", "", time.Time{})
	require.NoError(t, err)

	res, err := e.credit.RevertGroup(e.ctx, "u1", inst.GroupID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Removed)
	require.Len(t, res.Bills, 3)
	assert.True(t, res.Bills[0].Total.Equal(dec("10")))
	assert.True(t, res.Bills[1].Total.IsZero())

	_, err = e.credit.RevertGroup(e.ctx, "u1", inst.GroupID)
	var nf *domain.ErrNotFound
	assert.True(t, errors.As(err, &nf))
}

func TestPayBill(t *testing.T) {
	e := newEnv(t)
	e.income(t, "u1", "1000")
	_, err := e.credit.CreateCard(e.ctx, "u1", "visa", 10, 17, false)
	require.NoError(t, err)

	res, err := e.credit.PayBill(e.ctx, "u1", "visa", nil, "")
	require.NoError(t, err)
	assert.True(t, res.NothingDue)

	_, err = e.credit.RecordPurchase(e.ctx, "u1", "visa", dec("300"), "x", "", time.Time{})
	require.NoError(t, err)

	part := dec("100")
	res, err = e.credit.PayBill(e.ctx, "u1", "visa", &part, "")
	require.NoError(t, err)
	assert.True(t, res.Paid.Equal(dec("100")))
	assert.Equal(t, domain.BillOpen, res.Bill.Status)
	assert.True(t, res.AccountBalance.Equal(dec("900")))
	require.NotNil(t, res.Entry)
	assert.Equal(t, domain.KindPayBill, res.Entry.Kind)

	res, err = e.credit.PayBill(e.ctx, "u1", "", nil, "")
	require.NoError(t, err)
	assert.True(t, res.Paid.Equal(dec("200")))
	assert.Equal(t, domain.BillPaid, res.Bill.Status)
	assert.True(t, res.AccountBalance.Equal(dec("700")))

	res, err = e.credit.PayBill(e.ctx, "u1", "visa", nil, "")
	require.NoError(t, err)
	assert.True(t, res.NothingDue)
}

func TestPayBill_OverpaymentRejected(t *testing.T) {
	e := newEnv(t)
	e.income(t, "u1", "1000")
	_, err := e.credit.CreateCard(e.ctx, "u1", "visa", 10, 17, false)
	require.NoError(t, err)
	_, err = e.credit.RecordPurchase(e.ctx, "u1", "visa", dec("50"), "x", "", time.Time{})
	require.NoError(t, err)

	over := dec("50.01")
	_, err = e.credit.PayBill(e.ctx, "u1", "visa", &over, "")
	var due *domain.ErrAmountExceedsDue
	require.True(t, errors.As(err, &due))
	assert.True(t, due.Due.Equal(dec("50")))

	sum, err := e.credit.BillSummary(e.ctx, "u1", "visa", service.BillCurrent)
	require.NoError(t, err)
	require.NotNil(t, sum.Bill)
	assert.True(t, sum.Bill.Total.Equal(dec("50")))
	assert.True(t, sum.Bill.PaidAmount.IsZero())
	ov, err := e.ledger.Balance(e.ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ov.Account.Equal(dec("1000")))
}

func TestPayBill_InsufficientFunds(t *testing.T) {
	e := newEnv(t)
	_, err := e.credit.CreateCard(e.ctx, "u1", "visa", 10, 17, false)
	require.NoError(t, err)
	_, err = e.credit.RecordPurchase(e.ctx, "u1", "visa", dec("50"), "x", "", time.Time{})
	require.NoError(t, err)

	_, err = e.credit.PayBill(e.ctx, "u1", "visa", nil, "")
	var ins *domain.ErrInsufficientFunds
	assert.True(t, errors.As(err, &ins))
}

func TestPayBill_UndoRestoresBill(t *testing.T) {
	e := newEnv(t)
	e.income(t, "u1", "100")
	_, err := e.credit.CreateCard(e.ctx, "u1", "visa", 10, 17, false)
	require.NoError(t, err)
	_, err = e.credit.RecordPurchase(e.ctx, "u1", "visa", dec("40"), "x", "", time.Time{})
	require.NoError(t, err)
	paid, err := e.credit.PayBill(e.ctx, "u1", "visa", nil, "")
	require.NoError(t, err)
	require.Equal(t, domain.BillPaid, paid.Bill.Status)

	res, err := e.rollback.Undo(e.ctx, "u1", paid.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "100", res.AccountBalance)

	sum, err := e.credit.BillSummary(e.ctx, "u1", "visa", service.BillCurrent)
	require.NoError(t, err)
	assert.Equal(t, domain.BillOpen, sum.Bill.Status)
	assert.True(t, sum.Bill.PaidAmount.IsZero())
}

func TestPayBill_UndoAfterCloseKeepsClosed(t *testing.T) {
	e := newEnv(t)
	e.income(t, "u1", "100")
	_, err := e.credit.CreateCard(e.ctx, "u1", "visa", 10, 17, false)
	require.NoError(t, err)
	_, err = e.credit.RecordPurchase(e.ctx, "u1", "visa", dec("100"), "x", "", time.Time{})
	require.NoError(t, err)
	part := dec("40")
	paid, err := e.credit.PayBill(e.ctx, "u1", "visa", &part, "")
	require.NoError(t, err)
	require.Equal(t, domain.BillOpen, paid.Bill.Status)
	_, err = e.credit.CloseBill(e.ctx, "u1", "visa", time.Time{})
	require.NoError(t, err)

	_, err = e.rollback.Undo(e.ctx, "u1", paid.Entry.ID)
	require.NoError(t, err)

	sum, err := e.credit.BillSummary(e.ctx, "u1", "visa", service.BillCurrent)
	require.NoError(t, err)
	assert.Equal(t, domain.BillClosed, sum.Bill.Status)
	assert.True(t, sum.Bill.PaidAmount.IsZero())
}

func TestCloseBillAndReopen(t *testing.T) {
	e := newEnv(t)
	_, err := e.credit.CreateCard(e.ctx, "u1", "visa", 10, 17, false)
	require.NoError(t, err)

	_, err = e.credit.CloseBill(e.ctx, "u1", "visa", time.Time{})
	var nf *domain.ErrNotFound
	require.True(t, errors.As(err, &nf))

	_, err = e.credit.RecordPurchase(e.ctx, "u1", "visa", dec("10"), "x", "", time.Time{})
	require.NoError(t, err)
	bill, err := e.credit.CloseBill(e.ctx, "u1", "visa", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.BillClosed, bill.Status)

	res, err := e.credit.RecordPurchase(e.ctx, "u1", "visa", dec("5"), "x", "", time.Time{})
	require.NoError(t, err)
	assert.True(t, res.Reopened)
	assert.Equal(t, domain.BillOpen, res.Bill.Status)
}

func TestBillSummary_Next(t *testing.T) {
	e := newEnv(t)
	_, err := e.credit.CreateCard(e.ctx, "u1", "visa", 10, 17, false)
	require.NoError(t, err)
	_, err = e.credit.RecordInstallments(e.ctx, "u1", "visa", dec("20"), 2, "x", "", time.Time{})
	require.NoError(t, err)

	next, err := e.credit.BillSummary(e.ctx, "u1", "", service.BillNext)
	require.NoError(t, err)
	require.NotNil(t, next.Bill)
	assert.Equal(t, "2024-03-11..2024-04-10", next.Period.String())
	require.Len(t, next.Transactions, 1)
	assert.Equal(t, 2, next.Transactions[0].InstallmentNo)

	_, err = e.credit.BillSummary(e.ctx, "u1", "", "later")
	var val *domain.ErrValidation
	assert.True(t, errors.As(err, &val))
}
