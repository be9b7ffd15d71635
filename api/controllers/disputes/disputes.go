package disputes

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/shiftpay-backend/api/middleware"
	"github.com/angelmondragon/shiftpay-backend/api/responses"
	"github.com/angelmondragon/shiftpay-backend/api/validators"
	internaldisputes "github.com/angelmondragon/shiftpay-backend/internal/disputes"
	"github.com/angelmondragon/shiftpay-backend/internal/settlement"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
	"github.com/angelmondragon/shiftpay-backend/pkg/types"
)

type resolveRequest struct {
	Outcome enums.DisputeOutcome `json:"outcome" validate:"required,oneof=upheld rejected"`
	Note    string               `json:"note"`
}

type transition func(ctx context.Context, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error)

// Review moves an open dispute under review.
func Review(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return move(svc.ReviewDispute, logg)
}

// RequestResponse asks the counter party for a response.
func RequestResponse(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return move(svc.RequestDisputeResponse, logg)
}

func Escalate(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return move(svc.EscalateDispute, logg)
}

func move(fn transition, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, disputeID, err := commandTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dispute, err := fn(r.Context(), actor, disputeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}

// Resolve closes the dispute and settles its payment.
func Resolve(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, disputeID, err := commandTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req resolveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ResolveDispute(r.Context(), actor, internaldisputes.ResolveInput{
			DisputeID: disputeID,
			Outcome:   req.Outcome,
			Note:      validators.CleanText(req.Note, 1000),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func SLA(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		disputeID, err := validators.ParseUUIDParam(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.SLAStatus(r.Context(), disputeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func commandTarget(r *http.Request) (types.Actor, uuid.UUID, error) {
	actor, err := middleware.RequestActor(r)
	if err != nil {
		return actor, uuid.Nil, err
	}
	disputeID, err := validators.ParseUUIDParam(r, "disputeId")
	return actor, disputeID, err
}
