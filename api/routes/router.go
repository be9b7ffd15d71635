package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/shiftpay-backend/api/controllers"
	disputecontrollers "github.com/angelmondragon/shiftpay-backend/api/controllers/disputes"
	"github.com/angelmondragon/shiftpay-backend/api/controllers/ops"
	paymentcontrollers "github.com/angelmondragon/shiftpay-backend/api/controllers/payments"
	payoutcontrollers "github.com/angelmondragon/shiftpay-backend/api/controllers/payouts"
	"github.com/angelmondragon/shiftpay-backend/api/middleware"
	"github.com/angelmondragon/shiftpay-backend/internal/settlement"
	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/db"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
	"github.com/angelmondragon/shiftpay-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	settlementService settlement.Service,
	deadLetters ops.DeadLetters,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	deps := map[string]controllers.Pinger{}
	var idempotencyStore redis.IdempotencyStore
	if dbP != nil {
		deps["database"] = dbP
	}
	if redisClient != nil {
		deps["redis"] = redisClient
		idempotencyStore = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps))
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", paymentcontrollers.Open(settlementService, logg))
			r.Get("/", paymentcontrollers.List(settlementService, logg))
			r.Get("/due", paymentcontrollers.Due(settlementService, logg))
			r.Post("/release-due", paymentcontrollers.ReleaseDue(settlementService, logg))

			r.Route("/{paymentId}", func(r chi.Router) {
				r.Get("/", paymentcontrollers.Get(settlementService, logg))
				r.Get("/ledger", paymentcontrollers.Ledger(settlementService, logg))
				r.Post("/hold", paymentcontrollers.Hold(settlementService, logg))
				r.Post("/unhold", paymentcontrollers.Unhold(settlementService, logg))
				r.Post("/release", paymentcontrollers.Release(settlementService, logg))
				r.Post("/refunds", paymentcontrollers.Refund(settlementService, logg))
				r.Post("/disputes", paymentcontrollers.OpenDispute(settlementService, logg))
				r.Get("/dispute", paymentcontrollers.CurrentDispute(settlementService, logg))
			})
		})

		r.Route("/disputes/{disputeId}", func(r chi.Router) {
			r.Post("/review", disputecontrollers.Review(settlementService, logg))
			r.Post("/request-response", disputecontrollers.RequestResponse(settlementService, logg))
			r.Post("/escalate", disputecontrollers.Escalate(settlementService, logg))
			r.Post("/resolve", disputecontrollers.Resolve(settlementService, logg))
			r.Get("/sla", disputecontrollers.SLA(settlementService, logg))
		})

		r.Route("/payouts", func(r chi.Router) {
			r.Get("/", payoutcontrollers.List(settlementService, logg))
			r.Post("/", payoutcontrollers.Dispatch(settlementService, logg))
			r.Post("/retry-failed", payoutcontrollers.RetryFailed(settlementService, logg))
			r.Get("/{payoutId}", payoutcontrollers.Get(settlementService, logg))
			r.Post("/{payoutId}/retry", payoutcontrollers.Retry(settlementService, logg))
		})

		r.Put("/payout-methods", payoutcontrollers.RegisterMethod(settlementService, logg))

		r.With(middleware.RequireActorKind(logg, enums.ActorKindAdmin)).
			Get("/finance/summary", controllers.FinanceSummary(settlementService, logg))

		if deadLetters != nil {
			r.Route("/ops/outbox/dlq", func(r chi.Router) {
				r.Use(middleware.RequireActorKind(logg, enums.ActorKindAdmin))
				r.Get("/", ops.ListDeadLetters(deadLetters, logg))
				r.Post("/{eventId}/requeue", ops.RequeueDeadLetter(deadLetters, logg))
			})
		}
	})

	return r
}
