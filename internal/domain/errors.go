package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Error types for consistent error handling across the ledger core.
// All of them are expected, recoverable conditions reported verbatim to
// the caller, except ErrTransient which signals that a retry may succeed.

// ErrNotFound indicates a named pocket, investment, card, entry or pending
// action is absent. Suggestion carries the closest existing name, if any.
type ErrNotFound struct {
	Resource   string
	ID         string
	Suggestion string
}

func (e *ErrNotFound) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s not found: %s (did you mean %q?)", e.Resource, e.ID, e.Suggestion)
	}
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrInsufficientFunds indicates not enough balance on the source side.
type ErrInsufficientFunds struct {
	Source    string
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds in %s: available=%s required=%s",
		e.Source, e.Available.StringFixed(2), e.Required.StringFixed(2))
}

// ErrInvalidAmount indicates an amount that is not strictly positive or
// could not be parsed.
type ErrInvalidAmount struct {
	Value  string
	Reason string
}

func (e *ErrInvalidAmount) Error() string {
	return fmt.Sprintf("invalid amount %q: %s", e.Value, e.Reason)
}

// ErrNotZeroBalance guards deletion of pockets and investments.
type ErrNotZeroBalance struct {
	Resource string
	Name     string
	Balance  decimal.Decimal
}

func (e *ErrNotZeroBalance) Error() string {
	return fmt.Sprintf("%s %s has non-zero balance: %s", e.Resource, e.Name, e.Balance.String())
}

// ErrAlreadyExists indicates a uniquely named resource already exists.
type ErrAlreadyExists struct {
	Resource string
	Name     string
}

func (e *ErrAlreadyExists) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Resource, e.Name)
}

// ErrAmountExceedsDue rejects a bill payment larger than what is owed.
type ErrAmountExceedsDue struct {
	Amount decimal.Decimal
	Due    decimal.Decimal
}

func (e *ErrAmountExceedsDue) Error() string {
	return fmt.Sprintf("amount %s exceeds amount due %s", e.Amount.StringFixed(2), e.Due.StringFixed(2))
}

// ErrMissingEffects indicates a ledger entry without an effects descriptor,
// which cannot be reversed.
type ErrMissingEffects struct {
	EntryID int64
}

func (e *ErrMissingEffects) Error() string {
	return fmt.Sprintf("ledger entry %d has no effects descriptor and cannot be reversed", e.EntryID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrTransient wraps store-level failures (lock wait timeout, connectivity
// loss). The whole operation was rolled back and may be retried.
type ErrTransient struct {
	Operation string
	Err       error
}

func (e *ErrTransient) Error() string {
	return fmt.Sprintf("transient failure during %s: %v", e.Operation, e.Err)
}

func (e *ErrTransient) Unwrap() error {
	return e.Err
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}
