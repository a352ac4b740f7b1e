package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Account & entries
// ============================================================

func balanceHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/balance")
		defer span.End()

		ov, err := svc.Balance(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, ov)
	}
}

type recordRequest struct {
	Kind     domain.EntryKind `json:"kind"`
	Amount   amountField      `json:"amount"`
	Category string           `json:"category"`
	Note     string           `json:"note"`
}

func recordHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/entries")
		defer span.End()

		var req recordRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		amount, err := req.Amount.parse()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("entry.kind", string(req.Kind)))

		res, err := svc.Record(ctx, UserIDFromContext(ctx), req.Kind, amount, req.Category, req.Note)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func listEntriesHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/entries")
		defer span.End()

		entries, err := svc.ListEntries(ctx, UserIDFromContext(ctx), parseLimit(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Entry]{Data: entries, Total: len(entries)})
	}
}

func exportEntriesHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/entries/export")
		defer span.End()

		from, to, err := dateRange(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		entries, err := svc.EntriesBetween(ctx, UserIDFromContext(ctx), from, to)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Entry]{Data: entries, Total: len(entries)})
	}
}

func summaryHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/summary")
		defer span.End()

		from, to, err := dateRange(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		sum, err := svc.Summary(ctx, UserIDFromContext(ctx), from, to)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

func undoHandler(svc *service.RollbackService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/entries/{entryId}")
		defer span.End()

		id, err := strconv.ParseInt(chi.URLParam(r, "entryId"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "entry id must be an integer")
			return
		}
		res, err := svc.Undo(ctx, UserIDFromContext(ctx), id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func undoLastHandler(svc *service.RollbackService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/entries/undo-last")
		defer span.End()

		res, err := svc.UndoLast(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ============================================================
// Pockets & investments
// ============================================================

type namedRequest struct {
	Name string `json:"name"`
	Note string `json:"note"`
}

type moveRequest struct {
	Amount amountField `json:"amount"`
	Note   string      `json:"note"`
}

type moveFunc func(ctx context.Context, userID, name string, amount decimal.Decimal, note string) (*domain.MovementResult, error)

// pocketMoveHandler serves deposits and withdrawals of pockets and
// investments alike.
func pocketMoveHandler(move moveFunc, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()

		var req moveRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		amount, err := req.Amount.parse()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		res, err := move(ctx, UserIDFromContext(ctx), chi.URLParam(r, "name"), amount, req.Note)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func listPocketsHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/pockets")
		defer span.End()

		pockets, err := svc.ListPockets(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Pocket]{Data: pockets, Total: len(pockets)})
	}
}

func createPocketHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/pockets")
		defer span.End()

		var req namedRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		res, err := svc.CreatePocket(ctx, UserIDFromContext(ctx), req.Name, req.Note)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		status := http.StatusOK
		if res.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, res)
	}
}

func deletePocketHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/pockets/{name}")
		defer span.End()

		entry, err := svc.DeletePocket(ctx, UserIDFromContext(ctx), chi.URLParam(r, "name"), r.URL.Query().Get("note"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

type createInvestmentRequest struct {
	Name   string            `json:"name"`
	Rate   amountField       `json:"rate"`
	Period domain.RatePeriod `json:"period"`
	Note   string            `json:"note"`
}

func createInvestmentHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/investments")
		defer span.End()

		var req createInvestmentRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		rate, err := decimal.NewFromString(string(req.Rate))
		if err != nil {
			writeError(w, http.StatusBadRequest, "rate must be a decimal number")
			return
		}
		res, err := svc.CreateInvestment(ctx, UserIDFromContext(ctx), req.Name, rate, req.Period, req.Note)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		status := http.StatusOK
		if res.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, res)
	}
}

func listInvestmentsHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" /v1/investments")
		defer span.End()

		invs, err := svc.ListInvestments(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Investment]{Data: invs, Total: len(invs)})
	}
}

func deleteInvestmentHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/investments/{name}")
		defer span.End()

		entry, err := svc.DeleteInvestment(ctx, UserIDFromContext(ctx), chi.URLParam(r, "name"), r.URL.Query().Get("note"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

func dateRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if q.Get("from") == "" || q.Get("to") == "" {
		return from, to, &domain.ErrValidation{Field: "from,to", Message: "both are required (YYYY-MM-DD)"}
	}
	if from, err = domain.ParseDate(q.Get("from")); err != nil {
		return
	}
	to, err = domain.ParseDate(q.Get("to"))
	return
}
