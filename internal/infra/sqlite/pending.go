package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/boddenberg/pocket-ledger/internal/domain"

	"github.com/google/uuid"
)

// ============================================================
// Pending actions
// ============================================================

// PutPending replaces the user's staged action. Every put gets a fresh id.
func (t *txStore) PutPending(ctx context.Context, a *domain.PendingAction) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = t.now()
	}
	a.ID = uuid.NewString()
	if _, err := t.q.ExecContext(ctx,
		`INSERT INTO pending_actions (user_id, id, action_type, payload, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   id          = excluded.id,
		   action_type = excluded.action_type,
		   payload     = excluded.payload,
		   expires_at  = excluded.expires_at,
		   created_at  = excluded.created_at`,
		a.UserID, a.ID, string(a.ActionType), string(a.Payload), formatTS(a.ExpiresAt), formatTS(a.CreatedAt)); err != nil {
		return fmt.Errorf("put pending action: %w", err)
	}
	return nil
}

// GetPending returns the staged action, or nil when there is none. Expiry
// is left to the caller.
func (t *txStore) GetPending(ctx context.Context, userID string) (*domain.PendingAction, error) {
	var a domain.PendingAction
	var actionType, payload, expires, created string
	err := t.q.QueryRowContext(ctx,
		`SELECT user_id, id, action_type, payload, expires_at, created_at FROM pending_actions WHERE user_id = ?`,
		userID).Scan(&a.UserID, &a.ID, &actionType, &payload, &expires, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending action: %w", err)
	}
	a.ActionType = domain.PendingActionType(actionType)
	a.Payload = []byte(payload)
	if a.ExpiresAt, err = parseTS(expires); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTS(created); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *txStore) DeletePending(ctx context.Context, userID string) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM pending_actions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete pending action: %w", err)
	}
	return nil
}

// DeletePendingIf removes the staged action only while it is still the one
// with the given id.
func (t *txStore) DeletePendingIf(ctx context.Context, userID, id string) (bool, error) {
	res, err := t.q.ExecContext(ctx, `DELETE FROM pending_actions WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return false, fmt.Errorf("delete pending action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete pending action: %w", err)
	}
	return n > 0, nil
}
