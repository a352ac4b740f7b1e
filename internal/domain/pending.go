package domain

import (
	"encoding/json"
	"time"
)

// PendingActionType names a destructive action awaiting confirmation.
type PendingActionType string

const (
	ActionDeleteEntry      PendingActionType = "delete-entry"
	ActionDeletePocket     PendingActionType = "delete-pocket"
	ActionDeleteInvestment PendingActionType = "delete-investment"
)

// PendingAction is the single staging slot of a user. A new write replaces
// the previous one; once ExpiresAt passes it reads as absent.
type PendingAction struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	ActionType PendingActionType `json:"action_type"`
	Payload    json.RawMessage   `json:"payload"`
	ExpiresAt  time.Time         `json:"expires_at"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Expired reports whether the action is no longer valid at now.
func (p *PendingAction) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// DeleteEntryPayload is the payload of ActionDeleteEntry.
type DeleteEntryPayload struct {
	EntryID int64 `json:"entry_id"`
}

// DeleteNamedPayload is the payload of pocket and investment deletions.
type DeleteNamedPayload struct {
	Name string `json:"name"`
}

// ConfirmResult reports what a confirmed pending action did.
type ConfirmResult struct {
	ActionType PendingActionType `json:"action_type"`
	Entry      *Entry            `json:"entry,omitempty"`
	Undone     *UndoResult       `json:"undone,omitempty"`
}

// UndoResult reports a rollback.
type UndoResult struct {
	EntryID        int64     `json:"entry_id"`
	Kind           EntryKind `json:"kind"`
	Skipped        []string  `json:"skipped,omitempty"`
	AccountBalance string    `json:"account_balance"`
}
