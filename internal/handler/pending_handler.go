package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/service"

	"go.uber.org/zap"
)

type setPendingRequest struct {
	ActionType domain.PendingActionType `json:"action_type"`
	Payload    json.RawMessage          `json:"payload"`
	TTLSeconds int                      `json:"ttl_seconds"`
}

// typedPayload decodes the raw payload into the struct of its action so
// malformed payloads are refused before they are staged.
func typedPayload(t domain.PendingActionType, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, &domain.ErrValidation{Field: "payload", Message: "is required"}
	}
	var v any
	switch t {
	case domain.ActionDeleteEntry:
		var p domain.DeleteEntryPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.EntryID <= 0 {
			return nil, &domain.ErrValidation{Field: "payload", Message: "expected {\"entry_id\": <id>}"}
		}
		v = p
	case domain.ActionDeletePocket, domain.ActionDeleteInvestment:
		var p domain.DeleteNamedPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.Name == "" {
			return nil, &domain.ErrValidation{Field: "payload", Message: "expected {\"name\": \"...\"}"}
		}
		v = p
	default:
		return nil, &domain.ErrValidation{Field: "action_type", Message: "unknown action " + string(t)}
	}
	return v, nil
}

func setPendingHandler(svc *service.PendingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/pending")
		defer span.End()

		var req setPendingRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		payload, err := typedPayload(req.ActionType, req.Payload)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		action, err := svc.Set(ctx, UserIDFromContext(ctx), req.ActionType, payload, time.Duration(req.TTLSeconds)*time.Second)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, action)
	}
}

func getPendingHandler(svc *service.PendingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/pending")
		defer span.End()

		action, err := svc.Get(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if action == nil {
			writeError(w, http.StatusNotFound, "no pending action")
			return
		}
		writeJSON(w, http.StatusOK, action)
	}
}

func clearPendingHandler(svc *service.PendingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/pending")
		defer span.End()

		if err := svc.Clear(ctx, UserIDFromContext(ctx)); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func confirmPendingHandler(svc *service.PendingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/pending/confirm")
		defer span.End()

		res, err := svc.Confirm(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
