package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/infra/observability"
	"github.com/boddenberg/pocket-ledger/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var pendingTracer = otel.Tracer("service/pending")

// DefaultPendingTTL applies when Set is called with a zero ttl.
const DefaultPendingTTL = 10 * time.Minute

// PendingService stages one destructive action per user until it is
// confirmed or expires.
type PendingService struct {
	store    port.LedgerStore
	ledger   *LedgerService
	rollback *RollbackService
	clock    Clock
	ttl      time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewPendingService creates a pending-action service. ttl <= 0 uses
// DefaultPendingTTL.
func NewPendingService(store port.LedgerStore, ledger *LedgerService, rollback *RollbackService, clock Clock, ttl time.Duration, metrics *observability.Metrics, logger *zap.Logger) *PendingService {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &PendingService{store: store, ledger: ledger, rollback: rollback, clock: clock, ttl: ttl, metrics: metrics, logger: logger}
}

// Set stages an action, replacing whatever was staged before. A zero ttl
// uses the service default; a negative one stores an already expired
// action.
func (s *PendingService) Set(ctx context.Context, userID string, actionType domain.PendingActionType, payload any, ttl time.Duration) (action *domain.PendingAction, err error) {
	ctx, span := pendingTracer.Start(ctx, "PendingService.Set")
	defer span.End()
	defer func(start time.Time) { observe(s.metrics, s.logger, "pending_set", start, err) }(time.Now())

	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := validateAction(actionType, payload); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &domain.ErrValidation{Field: "payload", Message: err.Error()}
	}
	if ttl == 0 {
		ttl = s.ttl
	}

	now := s.clock.Now()
	action = &domain.PendingAction{
		UserID:     userID,
		ActionType: actionType,
		Payload:    raw,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	err = s.store.WithTx(ctx, "pending_set", func(tx port.Tx) error {
		if err := tx.EnsureUser(ctx, userID); err != nil {
			return err
		}
		return tx.PutPending(ctx, action)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("pending action staged",
		zap.String("user_id", userID),
		zap.String("action", string(actionType)),
		zap.Time("expires_at", action.ExpiresAt),
	)
	return action, nil
}

// Get returns the staged action, or nil when there is none or it expired.
// An expired row is deleted on the way.
func (s *PendingService) Get(ctx context.Context, userID string) (*domain.PendingAction, error) {
	ctx, span := pendingTracer.Start(ctx, "PendingService.Get")
	defer span.End()

	var action *domain.PendingAction
	err := s.store.View(ctx, func(tx port.Tx) error {
		var err error
		action, err = tx.GetPending(ctx, userID)
		return err
	})
	if err != nil || action == nil {
		return nil, err
	}
	if !action.Expired(s.clock.Now()) {
		return action, nil
	}

	err = s.store.WithTx(ctx, "pending_expire", func(tx port.Tx) error {
		current, err := tx.GetPending(ctx, userID)
		if err != nil || current == nil {
			return err
		}
		if !current.Expired(s.clock.Now()) {
			action = current
			return nil
		}
		action = nil
		return tx.DeletePending(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return action, nil
}

// Clear drops the staged action, if any.
func (s *PendingService) Clear(ctx context.Context, userID string) error {
	ctx, span := pendingTracer.Start(ctx, "PendingService.Clear")
	defer span.End()

	return s.store.WithTx(ctx, "pending_clear", func(tx port.Tx) error {
		return tx.DeletePending(ctx, userID)
	})
}

// Confirm executes the staged action and clears it. Nothing staged, or an
// expired action, is reported as NotFound. A failed execution keeps the
// action staged, and so does an action staged while this one ran.
func (s *PendingService) Confirm(ctx context.Context, userID string) (res *domain.ConfirmResult, err error) {
	ctx, span := pendingTracer.Start(ctx, "PendingService.Confirm")
	defer span.End()
	defer func(start time.Time) { observe(s.metrics, s.logger, "pending_confirm", start, err) }(time.Now())

	action, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return nil, &domain.ErrNotFound{Resource: "pending action", ID: userID}
	}

	res = &domain.ConfirmResult{ActionType: action.ActionType}
	switch action.ActionType {
	case domain.ActionDeleteEntry:
		var p domain.DeleteEntryPayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode pending payload: %w", err)
		}
		if res.Undone, err = s.rollback.Undo(ctx, userID, p.EntryID); err != nil {
			return nil, err
		}
	case domain.ActionDeletePocket:
		var p domain.DeleteNamedPayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode pending payload: %w", err)
		}
		if res.Entry, err = s.ledger.DeletePocket(ctx, userID, p.Name, ""); err != nil {
			return nil, err
		}
	case domain.ActionDeleteInvestment:
		var p domain.DeleteNamedPayload
		if err := json.Unmarshal(action.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode pending payload: %w", err)
		}
		if res.Entry, err = s.ledger.DeleteInvestment(ctx, userID, p.Name, ""); err != nil {
			return nil, err
		}
	default:
		return nil, &domain.ErrValidation{Field: "action_type", Message: fmt.Sprintf("unknown action %q", action.ActionType)}
	}

	var cleared bool
	err = s.store.WithTx(ctx, "pending_clear", func(tx port.Tx) error {
		var err error
		cleared, err = tx.DeletePendingIf(ctx, userID, action.ID)
		return err
	})
	switch {
	case err != nil:
		s.logger.Warn("pending action executed but not cleared", zap.String("user_id", userID), zap.Error(err))
		err = nil
	case !cleared:
		s.logger.Debug("pending action replaced while confirming, kept", zap.String("user_id", userID))
	}
	s.logger.Info("pending action confirmed",
		zap.String("user_id", userID),
		zap.String("action", string(action.ActionType)),
	)
	return res, nil
}

func validateAction(t domain.PendingActionType, payload any) error {
	switch t {
	case domain.ActionDeleteEntry, domain.ActionDeletePocket, domain.ActionDeleteInvestment:
	default:
		return &domain.ErrValidation{Field: "action_type", Message: fmt.Sprintf("unknown action %q", t)}
	}
	if payload == nil {
		return &domain.ErrValidation{Field: "payload", Message: "is required"}
	}
	return nil
}
