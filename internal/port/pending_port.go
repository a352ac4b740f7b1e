package port

import (
	"context"

	"github.com/boddenberg/pocket-ledger/internal/domain"
)

// PendingActionStore keeps one staged action per user.
type PendingActionStore interface {
	PutPending(ctx context.Context, action *domain.PendingAction) error
	GetPending(ctx context.Context, userID string) (*domain.PendingAction, error)
	DeletePending(ctx context.Context, userID string) error
	// DeletePendingIf deletes only while the staged action still has id and
	// reports whether it did.
	DeletePendingIf(ctx context.Context, userID, id string) (bool, error)
}
