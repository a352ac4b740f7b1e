package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/pocket-ledger/internal/domain"
	"github.com/boddenberg/pocket-ledger/internal/infra/observability"
	"github.com/boddenberg/pocket-ledger/internal/infra/resilience"
	"github.com/boddenberg/pocket-ledger/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles the use cases exposed over HTTP.
type Services struct {
	Ledger   *service.LedgerService
	Rollback *service.RollbackService
	Credit   *service.CreditService
	Pending  *service.PendingService
	Store    Pinger
}

// NewRouter creates the HTTP router with all routes and middleware. The
// bulkhead may be nil, in which case concurrency is not bounded; queueWait
// is how long a request may wait for a slot.
func NewRouter(svc Services, auth *Authenticator, bulkhead *resilience.Bulkhead, queueWait time.Duration, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware)
	r.Use(observability.ZapLoggerMiddleware(logger, metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc.Store, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Get("/metrics/ledger", ledgerMetricsHandler(metrics))

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(auth, logger))
			if bulkhead != nil {
				r.Use(bulkhead.Middleware(queueWait))
			}

			// Account, pockets and investments
			r.Get("/balance", balanceHandler(svc.Ledger, logger))

			r.Get("/entries", listEntriesHandler(svc.Ledger, logger))
			r.Post("/entries", recordHandler(svc.Ledger, logger))
			r.Get("/entries/export", exportEntriesHandler(svc.Ledger, logger))
			r.Post("/entries/undo-last", undoLastHandler(svc.Rollback, logger))
			r.Delete("/entries/{entryId}", undoHandler(svc.Rollback, logger))
			r.Get("/summary", summaryHandler(svc.Ledger, logger))

			r.Get("/pockets", listPocketsHandler(svc.Ledger, logger))
			r.Post("/pockets", createPocketHandler(svc.Ledger, logger))
			r.Delete("/pockets/{name}", deletePocketHandler(svc.Ledger, logger))
			r.Post("/pockets/{name}/deposit", pocketMoveHandler(svc.Ledger.PocketDeposit, logger))
			r.Post("/pockets/{name}/withdraw", pocketMoveHandler(svc.Ledger.PocketWithdraw, logger))

			r.Get("/investments", listInvestmentsHandler(svc.Ledger, logger))
			r.Post("/investments", createInvestmentHandler(svc.Ledger, logger))
			r.Post("/investments/accrue", listInvestmentsHandler(svc.Ledger, logger))
			r.Delete("/investments/{name}", deleteInvestmentHandler(svc.Ledger, logger))
			r.Post("/investments/{name}/deposit", pocketMoveHandler(svc.Ledger.InvestmentDeposit, logger))
			r.Post("/investments/{name}/withdraw", pocketMoveHandler(svc.Ledger.InvestmentWithdraw, logger))

			// Credit cards
			r.Get("/cards", listCardsHandler(svc.Credit, logger))
			r.Post("/cards", createCardHandler(svc.Credit, logger))
			r.Put("/cards/{name}/default", setDefaultCardHandler(svc.Credit, logger))
			r.Post("/cards/purchases", purchaseHandler(svc.Credit, logger))
			r.Post("/cards/refunds", refundHandler(svc.Credit, logger))
			r.Delete("/cards/groups/{groupId}", revertGroupHandler(svc.Credit, logger))
			r.Get("/cards/bill", billSummaryHandler(svc.Credit, logger))
			r.Post("/cards/bill/pay", payBillHandler(svc.Credit, logger))
			r.Post("/cards/bill/close", closeBillHandler(svc.Credit, logger))

			// Pending confirmations
			r.Get("/pending", getPendingHandler(svc.Pending, logger))
			r.Put("/pending", setPendingHandler(svc.Pending, logger))
			r.Delete("/pending", clearPendingHandler(svc.Pending, logger))
			r.Post("/pending/confirm", confirmPendingHandler(svc.Pending, logger))
		})
	})

	return r
}

// ============================================================
// Health & metrics
// ============================================================

func healthzHandler(store Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)
		services := []domain.ServiceHealth{
			{Name: "ledger-api", Status: "healthy", LastChecked: now},
		}

		if store != nil {
			start := time.Now()
			err := store.Ping(r.Context())
			status := "healthy"
			if err != nil {
				status = "unhealthy"
				logger.Warn("store ping failed", zap.Error(err))
			}
			services = append(services, domain.ServiceHealth{
				Name: "sqlite", Status: status, LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		overall, code := "healthy", http.StatusOK
		for _, s := range services {
			if s.Status == "unhealthy" {
				overall, code = "unhealthy", http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func ledgerMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetLedgerSnapshot())
	}
}
