// Package ops serves operator tooling for the settlement event pipeline.
package ops

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/shiftpay-backend/api/middleware"
	"github.com/angelmondragon/shiftpay-backend/api/responses"
	"github.com/angelmondragon/shiftpay-backend/api/validators"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
	"github.com/angelmondragon/shiftpay-backend/pkg/outbox"
	"github.com/angelmondragon/shiftpay-backend/pkg/pagination"
)

// DeadLetters is the slice of the DLQ repository the endpoints use.
type DeadLetters interface {
	List(ctx context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error)
	Requeue(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error)
}

func ListDeadLetters(store DeadLetters, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := dlqFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := store.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pagination.BuildPage(rows, filter.Limit, func(d models.OutboxDLQ) pagination.Cursor {
			return pagination.Cursor{At: d.FailedAt, ID: d.ID}
		}))
	}
}

// RequeueDeadLetter returns one event to the outbox for another publish run.
func RequeueDeadLetter(store DeadLetters, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := middleware.RequestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		eventID, err := validators.ParseUUIDParam(r, "eventId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entry, err := store.Requeue(r.Context(), eventID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			ctx := logg.WithActor(r.Context(), string(actor.Kind), actor.ID)
			ctx = logg.WithFields(ctx, map[string]any{
				"event_id":     entry.EventID,
				"event_type":   entry.EventType,
				"error_reason": entry.ErrorReason,
			})
			logg.Info(ctx, "dead-lettered event requeued")
		}
		responses.WriteSuccess(w, map[string]any{"event_id": entry.EventID, "requeued": true})
	}
}

func dlqFilter(r *http.Request) (outbox.DLQFilter, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return outbox.DLQFilter{}, err
	}
	cursor, err := pagination.ParseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		return outbox.DLQFilter{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	filter := outbox.DLQFilter{Limit: limit, Cursor: cursor}

	switch reason := enums.OutboxDLQErrorReason(strings.TrimSpace(r.URL.Query().Get("reason"))); reason {
	case "":
	case enums.OutboxDLQReasonUnroutable, enums.OutboxDLQReasonNonRetryable, enums.OutboxDLQReasonMaxAttempts:
		filter.Reason = reason
	default:
		return outbox.DLQFilter{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid reason").WithDetails(map[string]any{"field": "reason"})
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("event_type")); raw != "" {
		eventType, err := enums.ParseOutboxEventType(raw)
		if err != nil {
			return outbox.DLQFilter{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event_type")
		}
		filter.EventType = eventType
	}
	return filter, nil
}
