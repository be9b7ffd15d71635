package payments

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shiftpay-backend/api/middleware"
	"github.com/angelmondragon/shiftpay-backend/api/responses"
	"github.com/angelmondragon/shiftpay-backend/api/validators"
	"github.com/angelmondragon/shiftpay-backend/internal/escrow"
	"github.com/angelmondragon/shiftpay-backend/internal/ledger"
	"github.com/angelmondragon/shiftpay-backend/internal/settlement"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
	"github.com/angelmondragon/shiftpay-backend/pkg/pagination"
	"github.com/angelmondragon/shiftpay-backend/pkg/types"
)

const maxReasonLength = 500

type openRequest struct {
	ShiftAssignmentID uuid.UUID  `json:"shift_assignment_id" validate:"required"`
	WorkerID          uuid.UUID  `json:"worker_id" validate:"required"`
	BusinessID        uuid.UUID  `json:"business_id" validate:"required"`
	AgencyID          *uuid.UUID `json:"agency_id"`
	GrossCents        int64      `json:"gross_cents" validate:"gt=0"`
	Currency          string     `json:"currency" validate:"required,currency"`
	Urgent            bool       `json:"urgent"`
	HoldPeriodHours   int        `json:"hold_period_hours" validate:"min=0"`
}

type holdRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type unholdRequest struct {
	Note string `json:"note"`
}

type releaseRequest struct {
	Override bool   `json:"override"`
	Reason   string `json:"reason"`
}

// Open places a completed shift's payment into escrow. Reopening the same
// shift assignment returns the existing payment with 200.
func Open(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.RequestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req openRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.OpenEscrow(r.Context(), actor, escrow.OpenInput{
			ShiftAssignmentID: req.ShiftAssignmentID,
			WorkerID:          req.WorkerID,
			BusinessID:        req.BusinessID,
			AgencyID:          req.AgencyID,
			GrossCents:        req.GrossCents,
			Currency:          strings.ToUpper(strings.TrimSpace(req.Currency)),
			Urgent:            req.Urgent,
			HoldPeriod:        time.Duration(req.HoldPeriodHours) * time.Hour,
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

// List pages through payments, newest escrow first.
func List(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := buildFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListPayments(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, pagination.BuildPage(list, filter.Limit, func(p models.Payment) pagination.Cursor {
			return pagination.Cursor{At: p.EscrowStartedAt, ID: p.ID}
		}))
	}
}

func buildFilter(r *http.Request) (ledger.PaymentFilter, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return ledger.PaymentFilter{}, err
	}
	cursor, err := pagination.ParseCursor(strings.TrimSpace(r.URL.Query().Get("cursor")))
	if err != nil {
		return ledger.PaymentFilter{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	from, err := validators.ParseQueryTime(r, "from")
	if err != nil {
		return ledger.PaymentFilter{}, err
	}
	to, err := validators.ParseQueryTime(r, "to")
	if err != nil {
		return ledger.PaymentFilter{}, err
	}
	recipientID, err := validators.ParseQueryUUID(r, "recipient_id")
	if err != nil {
		return ledger.PaymentFilter{}, err
	}
	businessID, err := validators.ParseQueryUUID(r, "business_id")
	if err != nil {
		return ledger.PaymentFilter{}, err
	}

	filter := ledger.PaymentFilter{
		From:        from,
		To:          to,
		RecipientID: recipientID,
		BusinessID:  businessID,
		Limit:       limit,
		Cursor:      cursor,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParsePaymentStatus(raw)
		if err != nil {
			return ledger.PaymentFilter{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status")
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("recipient_type")); raw != "" {
		recipientType, err := enums.ParseRecipientType(raw)
		if err != nil {
			return ledger.PaymentFilter{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid recipient_type")
		}
		filter.RecipientType = recipientType
	}
	if filter.RecipientID != nil && filter.RecipientType == "" {
		return ledger.PaymentFilter{}, pkgerrors.New(pkgerrors.CodeValidation, "recipient_id requires recipient_type")
	}
	return filter, nil
}

// Due lists payments whose release time has passed at as_of (default now).
func Due(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		asOf, err := asOfParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.MaxLimit, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListDueForRelease(r.Context(), asOf, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"as_of": asOf, "items": list})
	}
}

// ReleaseDue runs the release batch on demand.
func ReleaseDue(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.RequestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		asOf, err := asOfParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ReleaseAllDue(r.Context(), actor, asOf)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func Get(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := validators.ParseUUIDParam(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payment, err := svc.GetPayment(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// Ledger returns the payment's entries and whether replaying them reproduces
// the stored state.
func Ledger(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := validators.ParseUUIDParam(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.ListLedgerEntries(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func Hold(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, paymentID, err := commandTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req holdRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Hold(r.Context(), actor, escrow.HoldInput{
			PaymentID:      paymentID,
			Reason:         validators.CleanText(req.Reason, maxReasonLength),
			IdempotencyKey: idempotencyKey(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func Unhold(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, paymentID, err := commandTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req unholdRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Unhold(r.Context(), actor, escrow.UnholdInput{
			PaymentID:      paymentID,
			Note:           validators.CleanText(req.Note, maxReasonLength),
			IdempotencyKey: idempotencyKey(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// Release releases one payment. Without override the scheduled release time
// must have passed.
func Release(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, paymentID, err := commandTarget(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req releaseRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Release(r.Context(), actor, escrow.ReleaseInput{
			PaymentID:      paymentID,
			Override:       req.Override,
			Reason:         validators.CleanText(req.Reason, maxReasonLength),
			IdempotencyKey: idempotencyKey(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func commandTarget(r *http.Request) (actor types.Actor, paymentID uuid.UUID, err error) {
	actor, err = middleware.RequestActor(r)
	if err != nil {
		return actor, uuid.Nil, err
	}
	paymentID, err = validators.ParseUUIDParam(r, "paymentId")
	return actor, paymentID, err
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(middleware.IdempotencyHeader))
}

func asOfParam(r *http.Request) (time.Time, error) {
	asOf, err := validators.ParseQueryTime(r, "as_of")
	if err != nil {
		return time.Time{}, err
	}
	if asOf == nil {
		return time.Now().UTC(), nil
	}
	return *asOf, nil
}
