package refunds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/internal/ledger"
	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
	"github.com/angelmondragon/shiftpay-backend/pkg/types"
)

// Service computes and records refunds. Every completed refund is a ledger
// entry; the refund row mirrors it for reporting.
type Service interface {
	RefundTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input Input) (*Result, error)
	RecordFailure(ctx context.Context, actor types.Actor, input Input, cause error) (*models.Refund, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Refund, error)
	Totals(ctx context.Context, from, to time.Time) (Totals, error)
}

// Input requests a refund. AmountCents is required for partial refunds; a
// full refund takes whatever is still refundable.
type Input struct {
	PaymentID      uuid.UUID
	AmountCents    int64
	Type           enums.RefundType
	Trigger        enums.RefundTrigger
	Reason         string
	EventRef       string
	IdempotencyKey string
}

type Result struct {
	Refund   models.Refund
	Append   *ledger.AppendResult
	Replayed bool
}

// RefundRecorder observes completed and failed refunds.
type RefundRecorder interface {
	ObserveRefund(refundType enums.RefundType, trigger enums.RefundTrigger, status enums.RefundStatus)
}

type ServiceParams struct {
	Repo    Repository
	Ledger  ledger.Service
	Config  config.RefundConfig
	Metrics RefundRecorder
	Now     func() time.Time
}

type service struct {
	repo        Repository
	ledger      ledger.Service
	autoReasons map[string]struct{}
	metrics     RefundRecorder
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("refund repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	reasons := make(map[string]struct{}, len(params.Config.AutoReasons))
	for _, reason := range params.Config.AutoReasons {
		if r := strings.TrimSpace(reason); r != "" {
			reasons[r] = struct{}{}
		}
	}
	return &service{
		repo:        params.Repo,
		ledger:      params.Ledger,
		autoReasons: reasons,
		metrics:     params.Metrics,
		now:         now,
	}, nil
}

// Key returns the ledger idempotency key for a refund request. Automatic
// refunds derive it from the triggering event so a redelivered event cannot
// refund twice.
func Key(input Input) string {
	if input.Trigger == enums.RefundTriggerAuto {
		return fmt.Sprintf("refund:auto:%s:%s", input.PaymentID, strings.TrimSpace(input.EventRef))
	}
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		return fmt.Sprintf("refund:%s:%s", input.PaymentID, key)
	}
	return fmt.Sprintf("refund:%s:%s", input.PaymentID, uuid.NewString())
}

func (s *service) validate(input Input) error {
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid refund type %q", input.Type))
	}
	if !input.Trigger.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid refund trigger %q", input.Trigger))
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "refund reason is required")
	}
	if input.Trigger == enums.RefundTriggerAuto {
		if _, ok := s.autoReasons[reason]; !ok {
			return pkgerrors.New(pkgerrors.CodeValidation, "reason does not qualify for an automatic refund").
				WithDetails(map[string]any{"reason": reason})
		}
		if strings.TrimSpace(input.EventRef) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "automatic refunds require the triggering event reference")
		}
	}
	switch input.Type {
	case enums.RefundTypePartial:
		if input.AmountCents <= 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidAmount, "partial refund amount must be positive")
		}
	case enums.RefundTypeFull:
		if input.AmountCents < 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidAmount, "refund amount must not be negative")
		}
	}
	return nil
}

func (s *service) RefundTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input Input) (*Result, error) {
	if err := s.validate(input); err != nil {
		return nil, err
	}
	key := Key(input)
	repo := s.repo.WithTx(tx)

	payment, err := s.ledger.LockPayment(ctx, tx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if existing, err := repo.FindByKey(ctx, key); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup refund")
	} else if existing != nil {
		if existing.PaymentID != input.PaymentID {
			return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for another payment")
		}
		return &Result{
			Refund:   *existing,
			Append:   &ledger.AppendResult{Previous: *payment, Payment: *payment, Replayed: true},
			Replayed: true,
		}, nil
	}

	amount := input.AmountCents
	entryType := enums.LedgerEntryPartialRefund
	if input.Type == enums.RefundTypeFull {
		entryType = enums.LedgerEntryFullRefund
		refundable := payment.RefundableCents()
		if amount != 0 && amount != refundable {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "full refund amount must equal the refundable balance").
				WithDetails(map[string]any{"refundable_cents": refundable})
		}
		amount = 0
	}

	refundID := uuid.New()
	reason := strings.TrimSpace(input.Reason)
	res, err := s.ledger.AppendTx(ctx, tx, ledger.AppendInput{
		PaymentID:      input.PaymentID,
		Type:           entryType,
		AmountCents:    -amount,
		Actor:          actor,
		IdempotencyKey: key,
		Payload: ledger.RefundPayload{
			RefundID: refundID,
			Reason:   reason,
			Trigger:  input.Trigger,
			EventRef: strings.TrimSpace(input.EventRef),
		},
	})
	if err != nil {
		return nil, err
	}

	at := res.Entry.OccurredAt
	refund := models.Refund{
		ID:             refundID,
		PaymentID:      input.PaymentID,
		AmountCents:    -res.Entry.AmountCents,
		WorkerCents:    res.Payment.RefundedWorkerCents - res.Previous.RefundedWorkerCents,
		PlatformCents:  res.Payment.RefundedPlatformCents - res.Previous.RefundedPlatformCents,
		AgencyCents:    res.Payment.RefundedAgencyCents - res.Previous.RefundedAgencyCents,
		ShortfallCents: res.Payment.ShortfallCents - res.Previous.ShortfallCents,
		Type:           input.Type,
		Trigger:        input.Trigger,
		Status:         enums.RefundStatusCompleted,
		Reason:         reason,
		EventRef:       optional(input.EventRef),
		IdempotencyKey: &key,
		RequestedBy:    actor.String(),
		CreatedAt:      at,
		CompletedAt:    &at,
	}
	if err := repo.Create(ctx, &refund); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
	}
	s.observe(refund.Type, refund.Trigger, refund.Status)
	return &Result{Refund: refund, Append: res}, nil
}

// RecordFailure stores a failed refund request so operators can act on it.
// It runs outside the rejected transaction.
func (s *service) RecordFailure(ctx context.Context, actor types.Actor, input Input, cause error) (*models.Refund, error) {
	if cause == nil {
		return nil, nil
	}
	code := string(pkgerrors.CodeInternal)
	msg := cause.Error()
	if typed := pkgerrors.As(cause); typed != nil {
		code = string(typed.Code())
		msg = typed.Message()
	}
	refundType := input.Type
	if !refundType.IsValid() {
		refundType = enums.RefundTypePartial
	}
	trigger := input.Trigger
	if !trigger.IsValid() {
		trigger = enums.RefundTriggerManual
	}
	amount := input.AmountCents
	if amount < 0 {
		amount = 0
	}
	refund := models.Refund{
		PaymentID:     input.PaymentID,
		AmountCents:   amount,
		Type:          refundType,
		Trigger:       trigger,
		Status:        enums.RefundStatusFailed,
		Reason:        strings.TrimSpace(input.Reason),
		EventRef:      optional(input.EventRef),
		FailureCode:   &code,
		FailureReason: &msg,
		RequestedBy:   actor.String(),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.repo.Create(ctx, &refund); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record failed refund")
	}
	s.observe(refund.Type, refund.Trigger, refund.Status)
	return &refund, nil
}

func (s *service) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.Refund, error) {
	rows, err := s.repo.ListByPayment(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refunds")
	}
	return rows, nil
}

func (s *service) Totals(ctx context.Context, from, to time.Time) (Totals, error) {
	totals, err := s.repo.Totals(ctx, from, to)
	if err != nil {
		return Totals{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "aggregate refunds")
	}
	return totals, nil
}

func (s *service) observe(refundType enums.RefundType, trigger enums.RefundTrigger, status enums.RefundStatus) {
	if s.metrics != nil {
		s.metrics.ObserveRefund(refundType, trigger, status)
	}
}

func optional(value string) *string {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	return &v
}
