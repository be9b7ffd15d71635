package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/pkg/db"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
	"github.com/angelmondragon/shiftpay-backend/pkg/types"
)

// Service is the only writer of payment state. Every balance-affecting
// action is appended as an entry and folded into the payment row in the
// same transaction.
type Service interface {
	Append(ctx context.Context, input AppendInput) (*AppendResult, error)
	AppendTx(ctx context.Context, tx *gorm.DB, input AppendInput) (*AppendResult, error)
	LockPayment(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID) (*models.Payment, error)
	CurrentState(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	Replay(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	Verify(ctx context.Context, paymentID uuid.UUID) (*ReplayReport, error)
	Entries(ctx context.Context, paymentID uuid.UUID) ([]models.LedgerEntry, error)
	FindReplay(ctx context.Context, input AppendInput) (*AppendResult, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// AppendRecorder observes append outcomes.
type AppendRecorder interface {
	ObserveAppend(entryType enums.LedgerEntryType, outcome string)
}

// AppendInput describes one entry to append. AmountCents is the signed
// change to the held balance.
type AppendInput struct {
	PaymentID      uuid.UUID
	Type           enums.LedgerEntryType
	AmountCents    int64
	Actor          types.Actor
	IdempotencyKey string
	Payload        any
}

// AppendResult is the outcome of an append. Replayed is set when the key had
// already been applied and nothing changed.
type AppendResult struct {
	Previous models.Payment
	Payment  models.Payment
	Entry    models.LedgerEntry
	Replayed bool
}

// ReplayReport compares the stored payment row with a fresh fold of its entries.
type ReplayReport struct {
	PaymentID  uuid.UUID       `json:"payment_id"`
	Entries    int             `json:"entries"`
	Consistent bool            `json:"consistent"`
	Mismatches []string        `json:"mismatches,omitempty"`
	Replayed   *models.Payment `json:"replayed"`
}

type ServiceParams struct {
	Repo     Repository
	TxRunner txRunner
	Metrics  AppendRecorder
	Now      func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	metrics AppendRecorder
	now     func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("ledger tx runner required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:    params.Repo,
		tx:      params.TxRunner,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

func (s *service) Append(ctx context.Context, input AppendInput) (*AppendResult, error) {
	var result *AppendResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.AppendTx(ctx, tx, input)
		return err
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			if replay, rerr := s.FindReplay(ctx, input); rerr == nil && replay != nil {
				return replay, nil
			}
		}
		return nil, err
	}
	return result, nil
}

func (s *service) AppendTx(ctx context.Context, tx *gorm.DB, input AppendInput) (*AppendResult, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	repo := s.repo.WithTx(tx)

	var payment *models.Payment
	if input.Type == enums.LedgerEntryOpen {
		if existing, err := repo.FindPayment(ctx, input.PaymentID); err == nil && existing != nil {
			payment = existing
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
		}
	} else {
		locked, err := repo.LockPayment(ctx, input.PaymentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found").
					WithDetails(map[string]any{"payment_id": input.PaymentID})
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payment")
		}
		payment = locked
	}

	// The key check runs after the row lock so concurrent duplicates observe
	// each other's committed entry.
	if replay, err := s.replayFrom(ctx, repo, input, payment); err != nil || replay != nil {
		if replay != nil {
			s.observe(input.Type, "replayed")
		}
		return replay, err
	}

	isNew := payment == nil
	if isNew {
		payment = &models.Payment{ID: input.PaymentID}
	}
	previous := *payment

	payload, err := encode(input.Payload)
	if err != nil {
		return nil, err
	}
	occurredAt := s.now().UTC()
	if occurredAt.Before(payment.LastEntryAt) {
		occurredAt = payment.LastEntryAt
	}
	entry := models.LedgerEntry{
		ID:             uuid.New(),
		PaymentID:      input.PaymentID,
		Sequence:       payment.LastSequence + 1,
		Type:           input.Type,
		AmountCents:    input.AmountCents,
		ActorKind:      input.Actor.Kind,
		ActorID:        input.Actor.ID,
		IdempotencyKey: input.IdempotencyKey,
		Payload:        payload,
		OccurredAt:     occurredAt,
	}

	if err := Apply(payment, &entry); err != nil {
		s.observe(input.Type, "rejected")
		return nil, err
	}

	if isNew {
		err = repo.CreatePayment(ctx, payment)
	} else {
		err = repo.SavePayment(ctx, payment)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist payment state")
	}
	if err := repo.InsertEntry(ctx, &entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger entry")
	}

	s.observe(input.Type, "applied")
	return &AppendResult{
		Previous: previous,
		Payment:  *payment,
		Entry:    entry,
	}, nil
}

// FindReplay returns the prior result for an already applied key, or nil.
func (s *service) FindReplay(ctx context.Context, input AppendInput) (*AppendResult, error) {
	payment, err := s.repo.FindPayment(ctx, input.PaymentID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return s.replayFrom(ctx, s.repo, input, payment)
}

func (s *service) replayFrom(ctx context.Context, repo Repository, input AppendInput, payment *models.Payment) (*AppendResult, error) {
	existing, err := repo.FindEntryByKey(ctx, input.IdempotencyKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup idempotency key")
	}
	if existing == nil {
		return nil, nil
	}
	if existing.PaymentID != input.PaymentID || existing.Type != input.Type {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for a different operation").
			WithDetails(map[string]any{
				"idempotency_key": input.IdempotencyKey,
				"payment_id":      existing.PaymentID,
				"entry_type":      existing.Type,
			})
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger entry without payment row")
	}
	return &AppendResult{
		Previous: *payment,
		Payment:  *payment,
		Entry:    *existing,
		Replayed: true,
	}, nil
}

func (s *service) LockPayment(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.WithTx(tx).LockPayment(ctx, paymentID)
	if err != nil {
		return nil, notFoundOr(err, paymentID)
	}
	return payment, nil
}

func (s *service) CurrentState(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindPayment(ctx, paymentID)
	if err != nil {
		return nil, notFoundOr(err, paymentID)
	}
	return payment, nil
}

func (s *service) Entries(ctx context.Context, paymentID uuid.UUID) ([]models.LedgerEntry, error) {
	entries, err := s.repo.ListEntries(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger entries")
	}
	return entries, nil
}

func (s *service) Replay(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	entries, err := s.Entries(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found").
			WithDetails(map[string]any{"payment_id": paymentID})
	}
	return Fold(paymentID, entries)
}

func (s *service) Verify(ctx context.Context, paymentID uuid.UUID) (*ReplayReport, error) {
	stored, err := s.CurrentState(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	entries, err := s.Entries(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	replayed, err := Fold(paymentID, entries)
	if err != nil {
		return nil, err
	}
	mismatches := Diff(*stored, *replayed)
	return &ReplayReport{
		PaymentID:  paymentID,
		Entries:    len(entries),
		Consistent: len(mismatches) == 0,
		Mismatches: mismatches,
		Replayed:   replayed,
	}, nil
}

// Fold rebuilds a payment from its entries in sequence order.
func Fold(paymentID uuid.UUID, entries []models.LedgerEntry) (*models.Payment, error) {
	payment := &models.Payment{ID: paymentID}
	for i := range entries {
		entry := entries[i]
		if err := Apply(payment, &entry); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err,
				fmt.Sprintf("replay failed at sequence %d", entry.Sequence))
		}
	}
	return payment, nil
}

// Diff lists the derived fields on which two payment states disagree.
func Diff(a, b models.Payment) []string {
	var out []string
	check := func(name string, equal bool) {
		if !equal {
			out = append(out, name)
		}
	}
	check("shift_assignment_id", a.ShiftAssignmentID == b.ShiftAssignmentID)
	check("worker_id", a.WorkerID == b.WorkerID)
	check("business_id", a.BusinessID == b.BusinessID)
	check("agency_id", uuidPtrEqual(a.AgencyID, b.AgencyID))
	check("currency", a.Currency == b.Currency)
	check("gross_cents", a.GrossCents == b.GrossCents)
	check("worker_cents", a.WorkerCents == b.WorkerCents)
	check("platform_fee_cents", a.PlatformFeeCents == b.PlatformFeeCents)
	check("agency_commission_cents", a.AgencyCommissionCents == b.AgencyCommissionCents)
	check("refunded_worker_cents", a.RefundedWorkerCents == b.RefundedWorkerCents)
	check("refunded_platform_cents", a.RefundedPlatformCents == b.RefundedPlatformCents)
	check("refunded_agency_cents", a.RefundedAgencyCents == b.RefundedAgencyCents)
	check("paid_out_worker_cents", a.PaidOutWorkerCents == b.PaidOutWorkerCents)
	check("paid_out_agency_cents", a.PaidOutAgencyCents == b.PaidOutAgencyCents)
	check("in_flight_worker_cents", a.InFlightWorkerCents == b.InFlightWorkerCents)
	check("in_flight_agency_cents", a.InFlightAgencyCents == b.InFlightAgencyCents)
	check("shortfall_cents", a.ShortfallCents == b.ShortfallCents)
	check("status", a.Status == b.Status)
	check("escrow_started_at", a.EscrowStartedAt.Equal(b.EscrowStartedAt))
	check("scheduled_release_at", a.ScheduledReleaseAt.Equal(b.ScheduledReleaseAt))
	check("is_flagged", a.IsFlagged == b.IsFlagged)
	check("flagged_reason", stringPtrEqual(a.FlaggedReason, b.FlaggedReason))
	check("flagged_at", timePtrEqual(a.FlaggedAt, b.FlaggedAt))
	check("active_dispute_id", uuidPtrEqual(a.ActiveDisputeID, b.ActiveDisputeID))
	check("released_at", timePtrEqual(a.ReleasedAt, b.ReleasedAt))
	check("paid_out_at", timePtrEqual(a.PaidOutAt, b.PaidOutAt))
	check("refunded_at", timePtrEqual(a.RefundedAt, b.RefundedAt))
	check("last_sequence", a.LastSequence == b.LastSequence)
	check("last_entry_at", a.LastEntryAt.Equal(b.LastEntryAt))
	return out
}

func validateInput(input AppendInput) error {
	if input.PaymentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if !input.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger entry type %q", input.Type))
	}
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if err := input.Actor.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid actor")
	}
	return nil
}

func (s *service) observe(entryType enums.LedgerEntryType, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveAppend(entryType, outcome)
	}
}

func notFoundOr(err error, paymentID uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found").
			WithDetails(map[string]any{"payment_id": paymentID})
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
}

func uuidPtrEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func stringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
