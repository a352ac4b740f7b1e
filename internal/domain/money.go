package domain

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits kept on amounts and
// balances. Accrual results are rounded to it as well.
const MoneyScale = 8

// Currency is the single currency every balance is expressed in.
const Currency = money.BRL

// ParseAmount parses a user supplied amount. Both "1234.56" and the
// Brazilian "1.234,56" notation are accepted.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ErrInvalidAmount{Value: raw, Reason: "not a number"}
	}
	return ValidateAmount(d)
}

// ValidateAmount rejects amounts <= 0 and normalizes the rest to MoneyScale.
func ValidateAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, &ErrInvalidAmount{Value: amount.String(), Reason: "must be greater than zero"}
	}
	normalized := amount.Round(MoneyScale)
	if !normalized.IsPositive() {
		return decimal.Zero, &ErrInvalidAmount{Value: amount.String(), Reason: "too small"}
	}
	return normalized, nil
}

// FormatBRL renders an amount for humans, e.g. "R$1.234,56".
func FormatBRL(amount decimal.Decimal) string {
	cur := money.GetCurrency(Currency)
	cents := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(cents, Currency).Display()
}
