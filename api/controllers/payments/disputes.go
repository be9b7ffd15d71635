package payments

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/shiftpay-backend/api/responses"
	"github.com/angelmondragon/shiftpay-backend/api/validators"
	"github.com/angelmondragon/shiftpay-backend/internal/disputes"
	"github.com/angelmondragon/shiftpay-backend/internal/settlement"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
)

type openDisputeRequest struct {
	Reason     string    `json:"reason" validate:"required"`
	RaisedBy   string    `json:"raised_by" validate:"required,oneof=worker business agency"`
	WorkerID   uuid.UUID `json:"worker_id"`
	BusinessID uuid.UUID `json:"business_id"`
}

// OpenDispute freezes the payment until the dispute is resolved.
func OpenDispute(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, paymentID, err := commandTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req openDisputeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.OpenDispute(r.Context(), actor, disputes.OpenInput{
			PaymentID:      paymentID,
			Reason:         validators.CleanText(req.Reason, maxReasonLength),
			RaisedBy:       req.RaisedBy,
			WorkerID:       req.WorkerID,
			BusinessID:     req.BusinessID,
			IdempotencyKey: idempotencyKey(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

// CurrentDispute returns the payment's active or latest dispute with its SLA.
func CurrentDispute(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := validators.ParseUUIDParam(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.GetDispute(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
