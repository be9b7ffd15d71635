package payments

import (
	"net/http"

	"github.com/angelmondragon/shiftpay-backend/api/responses"
	"github.com/angelmondragon/shiftpay-backend/api/validators"
	"github.com/angelmondragon/shiftpay-backend/internal/refunds"
	"github.com/angelmondragon/shiftpay-backend/internal/settlement"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
)

type refundRequest struct {
	Type        enums.RefundType    `json:"type" validate:"required,oneof=full partial"`
	AmountCents int64               `json:"amount_cents" validate:"min=0"`
	Trigger     enums.RefundTrigger `json:"trigger" validate:"omitempty,oneof=auto manual"`
	Reason      string              `json:"reason" validate:"required"`
	EventRef    string              `json:"event_ref"`
}

type refundResponse struct {
	Refund   models.Refund  `json:"refund"`
	Payment  models.Payment `json:"payment"`
	Replayed bool           `json:"replayed"`
}

// Refund returns money to the business. Admin callers default to a manual
// refund; service and system callers default to an automatic one.
func Refund(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, paymentID, err := commandTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		trigger := req.Trigger
		if trigger == "" {
			trigger = enums.RefundTriggerManual
			if !actor.Is(enums.ActorKindAdmin) {
				trigger = enums.RefundTriggerAuto
			}
		}

		result, err := svc.Refund(r.Context(), actor, refunds.Input{
			PaymentID:      paymentID,
			AmountCents:    req.AmountCents,
			Type:           req.Type,
			Trigger:        trigger,
			Reason:         validators.CleanText(req.Reason, maxReasonLength),
			EventRef:       validators.CleanText(req.EventRef, maxReasonLength),
			IdempotencyKey: idempotencyKey(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := refundResponse{Refund: result.Refund, Replayed: result.Replayed}
		if result.Append != nil {
			resp.Payment = result.Append.Payment
		}
		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, resp)
	}
}
