package service

import (
	"context"
	"errors"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/infra/observability"
	"github.com/boddenberg/pocket-ledger/internal/port"

	"go.uber.org/zap"
)

// observe records duration and outcome of a service operation.
func observe(m *observability.Metrics, logger *zap.Logger, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.RecordOperation(op, time.Since(start))
	if err == nil {
		return
	}
	if reason := rejectionReason(err); reason != "" {
		m.IncrRejection(reason)
		return
	}
	var tr *domain.ErrTransient
	if errors.As(err, &tr) {
		m.IncrTransient(op)
		return
	}
	var ext *domain.ErrExternalService
	if errors.As(err, &ext) {
		m.IncrExternalError(ext.Service)
		return
	}
	logger.Error("operation failed", zap.String("op", op), zap.Error(err))
}

func rejectionReason(err error) string {
	var (
		nf  *domain.ErrNotFound
		ins *domain.ErrInsufficientFunds
		amt *domain.ErrInvalidAmount
		nzb *domain.ErrNotZeroBalance
		ae  *domain.ErrAlreadyExists
		due *domain.ErrAmountExceedsDue
		me  *domain.ErrMissingEffects
		val *domain.ErrValidation
	)
	switch {
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &ins):
		return "insufficient_funds"
	case errors.As(err, &amt):
		return "invalid_amount"
	case errors.As(err, &nzb):
		return "not_zero_balance"
	case errors.As(err, &ae):
		return "already_exists"
	case errors.As(err, &due):
		return "amount_exceeds_due"
	case errors.As(err, &me):
		return "missing_effects"
	case errors.As(err, &val):
		return "validation"
	}
	return ""
}

// pocketNotFound builds a NotFound for a pocket with the closest existing
// name as suggestion.
func pocketNotFound(ctx context.Context, tx port.Tx, userID, name string) error {
	pockets, err := tx.ListPockets(ctx, userID)
	if err != nil {
		return err
	}
	names := make([]string, len(pockets))
	for i, p := range pockets {
		names[i] = p.Name
	}
	return &domain.ErrNotFound{Resource: "pocket", ID: name, Suggestion: domain.ClosestName(name, names)}
}

func investmentNotFound(ctx context.Context, tx port.Tx, userID, name string) error {
	invs, err := tx.ListInvestments(ctx, userID)
	if err != nil {
		return err
	}
	names := make([]string, len(invs))
	for i, inv := range invs {
		names[i] = inv.Name
	}
	return &domain.ErrNotFound{Resource: "investment", ID: name, Suggestion: domain.ClosestName(name, names)}
}

func cardNotFound(ctx context.Context, tx port.Tx, userID, name string) error {
	cards, err := tx.ListCards(ctx, userID)
	if err != nil {
		return err
	}
	names := make([]string, len(cards))
	for i, c := range cards {
		names[i] = c.Name
	}
	return &domain.ErrNotFound{Resource: "card", ID: name, Suggestion: domain.ClosestName(name, names)}
}

func requireUser(userID string) error {
	if userID == "" {
		return &domain.ErrValidation{Field: "user_id", Message: "is required"}
	}
	return nil
}
