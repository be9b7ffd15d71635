package payouts

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/shiftpay-backend/api/middleware"
	"github.com/angelmondragon/shiftpay-backend/api/responses"
	"github.com/angelmondragon/shiftpay-backend/api/validators"
	internalpayouts "github.com/angelmondragon/shiftpay-backend/internal/payouts"
	"github.com/angelmondragon/shiftpay-backend/internal/settlement"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
	"github.com/angelmondragon/shiftpay-backend/pkg/pagination"
)

type dispatchRequest struct {
	RecipientType enums.RecipientType `json:"recipient_type" validate:"required,oneof=worker agency"`
	RecipientID   uuid.UUID           `json:"recipient_id" validate:"required"`
	Currency      string              `json:"currency" validate:"required,currency"`
	AmountCents   int64               `json:"amount_cents" validate:"min=0"`
}

type methodRequest struct {
	RecipientType  enums.RecipientType    `json:"recipient_type" validate:"required,oneof=worker agency"`
	RecipientID    uuid.UUID              `json:"recipient_id" validate:"required"`
	Method         enums.PayoutMethodType `json:"method" validate:"required,oneof=bank_transfer debit_card wallet"`
	DestinationRef string                 `json:"destination_ref" validate:"required,max=255"`
}

type attemptResponse struct {
	Payout  models.Payout         `json:"payout"`
	Attempt *models.PayoutAttempt `json:"attempt,omitempty"`
}

func List(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := buildFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.ListPayouts(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, pagination.BuildPage(list, filter.Limit, func(p models.Payout) pagination.Cursor {
			return pagination.Cursor{At: p.CreatedAt, ID: p.ID}
		}))
	}
}

func buildFilter(r *http.Request) (internalpayouts.Filter, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return internalpayouts.Filter{}, err
	}
	cursor, err := pagination.ParseCursor(strings.TrimSpace(r.URL.Query().Get("cursor")))
	if err != nil {
		return internalpayouts.Filter{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	recipientID, err := validators.ParseQueryUUID(r, "recipient_id")
	if err != nil {
		return internalpayouts.Filter{}, err
	}

	filter := internalpayouts.Filter{RecipientID: recipientID, Limit: limit, Cursor: cursor}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParsePayoutStatus(raw)
		if err != nil {
			return internalpayouts.Filter{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status")
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("recipient_type")); raw != "" {
		recipientType, err := enums.ParseRecipientType(raw)
		if err != nil {
			return internalpayouts.Filter{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid recipient_type")
		}
		filter.RecipientType = recipientType
	}
	return filter, nil
}

// Get returns a payout with its attempt history.
func Get(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payoutID, err := validators.ParseUUIDParam(r, "payoutId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.GetPayout(r.Context(), payoutID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// Dispatch sends the recipient's pending payout. A positive amount_cents must
// match the pending aggregate.
func Dispatch(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.RequestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req dispatchRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		currency, err := enums.ParseCurrency(req.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency"))
			return
		}

		result, err := svc.DispatchPayout(r.Context(), actor, internalpayouts.RecipientInput{
			RecipientType: req.RecipientType,
			RecipientID:   req.RecipientID,
			Currency:      currency,
			ExpectedCents: req.AmountCents,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, attemptResponse{Payout: result.Payout, Attempt: result.Attempt})
	}
}

func Retry(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.RequestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payoutID, err := validators.ParseUUIDParam(r, "payoutId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.RetryPayout(r.Context(), actor, payoutID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, attemptResponse{Payout: result.Payout, Attempt: result.Attempt})
	}
}

// RetryFailed retries every failed payout and reports each one.
func RetryFailed(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.RequestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.RetryAllFailedPayouts(r.Context(), actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// RegisterMethod upserts a recipient's payout destination.
func RegisterMethod(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.RequestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req methodRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := svc.RegisterPayoutMethod(r.Context(), actor, internalpayouts.MethodInput{
			RecipientType:  req.RecipientType,
			RecipientID:    req.RecipientID,
			Method:         req.Method,
			DestinationRef: strings.TrimSpace(req.DestinationRef),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, method)
	}
}
