package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ============================================================
// Cards
// ============================================================

type createCardRequest struct {
	Name       string `json:"name"`
	ClosingDay int    `json:"closing_day"`
	DueDay     int    `json:"due_day"`
	Default    bool   `json:"default"`
}

func createCardHandler(svc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cards")
		defer span.End()

		var req createCardRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		card, err := svc.CreateCard(ctx, UserIDFromContext(ctx), req.Name, req.ClosingDay, req.DueDay, req.Default)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, card)
	}
}

func listCardsHandler(svc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards")
		defer span.End()

		cards, err := svc.ListCards(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.CreditCard]{Data: cards, Total: len(cards)})
	}
}

func setDefaultCardHandler(svc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/cards/{name}/default")
		defer span.End()

		card, err := svc.SetDefaultCard(ctx, UserIDFromContext(ctx), chi.URLParam(r, "name"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, card)
	}
}

// ============================================================
// Purchases
// ============================================================

type purchaseRequest struct {
	Card         string      `json:"card"`
	Amount       amountField `json:"amount"`
	Category     string      `json:"category"`
	Note         string      `json:"note"`
	Date         string      `json:"date"`
	Installments int         `json:"installments"`
}

func purchaseHandler(svc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cards/purchases")
		defer span.End()

		var req purchaseRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		amount, err := req.Amount.parse()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		date, err := parseDateParam(req.Date, time.Time{})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		userID := UserIDFromContext(ctx)
		if req.Installments > 1 {
			res, err := svc.RecordInstallments(ctx, userID, req.Card, amount, req.Installments, req.Category, req.Note, date)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			writeJSON(w, http.StatusCreated, res)
			return
		}
		res, err := svc.RecordPurchase(ctx, userID, req.Card, amount, req.Category, req.Note, date)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

type refundRequest struct {
	Card   string      `json:"card"`
	Amount amountField `json:"amount"`
	Note   string      `json:"note"`
	Date   string      `json:"date"`
}

func refundHandler(svc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cards/refunds")
		defer span.End()

		var req refundRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		amount, err := req.Amount.parse()
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		date, err := parseDateParam(req.Date, time.Time{})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		res, err := svc.RecordRefund(ctx, UserIDFromContext(ctx), req.Card, amount, req.Note, date)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func revertGroupHandler(svc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/cards/groups/{groupId}")
		defer span.End()

		res, err := svc.RevertGroup(ctx, UserIDFromContext(ctx), chi.URLParam(r, "groupId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// ============================================================
// Bills
// ============================================================

func billSummaryHandler(svc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cards/bill")
		defer span.End()

		q := r.URL.Query()
		sum, err := svc.BillSummary(ctx, UserIDFromContext(ctx), q.Get("card"), q.Get("which"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

type payBillRequest struct {
	Card   string      `json:"card"`
	Amount amountField `json:"amount"`
	Note   string      `json:"note"`
}

func payBillHandler(svc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cards/bill/pay")
		defer span.End()

		var req payBillRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		var amount *decimal.Decimal
		if !req.Amount.empty() {
			v, err := req.Amount.parse()
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			amount = &v
		}
		res, err := svc.PayBill(ctx, UserIDFromContext(ctx), req.Card, amount, req.Note)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type closeBillRequest struct {
	Card string `json:"card"`
	Date string `json:"date"`
}

func closeBillHandler(svc *service.CreditService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cards/bill/close")
		defer span.End()

		var req closeBillRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		date, err := parseDateParam(req.Date, time.Time{})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		bill, err := svc.CloseBill(ctx, UserIDFromContext(ctx), req.Card, date)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, bill)
	}
}
