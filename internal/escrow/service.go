package escrow

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
	"github.com/angelmondragon/shiftpay-backend/pkg/money"
	"github.com/angelmondragon/shiftpay-backend/pkg/types"
)

// paymentNamespace derives payment ids from shift assignment ids so that
// concurrent opens for the same shift collide on the primary key.
var paymentNamespace = uuid.MustParse("6f1c63a4-53a8-4d4c-9a0e-2f5b8f6f1e21")

// Service manages the escrow period of each payment: opening, holds and
// release eligibility. All writes go through the ledger.
type Service interface {
	OpenTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input OpenInput) (*ledger.AppendResult, error)
	FindOpenReplay(ctx context.Context, input OpenInput) (*ledger.AppendResult, error)
	HoldTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input HoldInput) (*ledger.AppendResult, error)
	UnholdTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input UnholdInput) (*ledger.AppendResult, error)
	ReleaseTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input ReleaseInput) (*ledger.AppendResult, error)
	ListDueForRelease(ctx context.Context, asOf time.Time, limit int) ([]models.Payment, error)
}

// OpenInput describes a completed shift payment entering escrow.
type OpenInput struct {
	ShiftAssignmentID uuid.UUID
	WorkerID          uuid.UUID
	BusinessID        uuid.UUID
	AgencyID          *uuid.UUID
	GrossCents        int64
	Currency          string
	Urgent            bool
	// HoldPeriod overrides the default window when set. It may only shorten it.
	HoldPeriod time.Duration
}

type HoldInput struct {
	PaymentID      uuid.UUID
	Reason         string
	IdempotencyKey string
}

type UnholdInput struct {
	PaymentID      uuid.UUID
	Note           string
	IdempotencyKey string
}

// ReleaseInput requests a release. Override skips the scheduled release time
// and is reserved for admins.
type ReleaseInput struct {
	PaymentID      uuid.UUID
	Override       bool
	Reason         string
	DisputeID      *uuid.UUID
	IdempotencyKey string
}

type ServiceParams struct {
	Ledger ledger.Service
	Repo   ledger.Repository
	Fees   config.FeesConfig
	Escrow config.EscrowConfig
}

type service struct {
	ledger ledger.Service
	repo   ledger.Repository
	fees   config.FeesConfig
	cfg    config.EscrowConfig
}

// NewService builds the hold manager.
func NewService(params ServiceParams) (Service, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Escrow.HoldPeriod <= 0 {
		return nil, fmt.Errorf("escrow hold period must be positive")
	}
	return &service{
		ledger: params.Ledger,
		repo:   params.Repo,
		fees:   params.Fees,
		cfg:    params.Escrow,
	}, nil
}

// PaymentIDForShift returns the payment id owned by a shift assignment.
func PaymentIDForShift(shiftAssignmentID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(paymentNamespace, shiftAssignmentID[:])
}

// OpenKey is the ledger idempotency key of a shift's escrow.
func OpenKey(shiftAssignmentID uuid.UUID) string {
	return "escrow:open:" + shiftAssignmentID.String()
}

// ReleaseKey is the ledger idempotency key shared by every release path, so
// a scheduled and a manual release of the same payment collapse into one.
func ReleaseKey(paymentID uuid.UUID) string {
	return "escrow:release:" + paymentID.String()
}

func (s *service) OpenTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input OpenInput) (*ledger.AppendResult, error) {
	if input.ShiftAssignmentID == uuid.Nil || input.WorkerID == uuid.Nil || input.BusinessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shift assignment, worker and business ids are required")
	}
	if input.AgencyID != nil && *input.AgencyID == uuid.Nil {
		input.AgencyID = nil
	}

	currency := input.Currency
	if strings.TrimSpace(currency) == "" {
		currency = s.fees.DefaultCurrency
	}
	cur, err := enums.ParseCurrency(currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency")
	}

	holdPeriod, err := s.holdPeriod(input.HoldPeriod)
	if err != nil {
		return nil, err
	}

	rates, err := s.fees.Rates(input.AgencyID != nil, input.Urgent)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load fee rates")
	}
	split, err := money.ComputeSplit(input.GrossCents, rates)
	if err != nil {
		return nil, err
	}

	payload := ledger.OpenPayload{
		ShiftAssignmentID:     input.ShiftAssignmentID,
		WorkerID:              input.WorkerID,
		BusinessID:            input.BusinessID,
		AgencyID:              input.AgencyID,
		Currency:              cur,
		GrossCents:            input.GrossCents,
		WorkerCents:           split.WorkerCents,
		PlatformFeeCents:      split.PlatformFeeCents,
		AgencyCommissionCents: split.AgencyCommissionCents,
		HoldPeriod:            holdPeriod,
		Urgent:                input.Urgent,
		PlatformFeeRate:       rates.PlatformFee.String(),
		AgencyCommissionRate:  rates.AgencyCommission.String(),
		UrgentBonusRate:       rates.UrgentBonus.String(),
	}

	res, err := s.ledger.AppendTx(ctx, tx, ledger.AppendInput{
		PaymentID:      PaymentIDForShift(input.ShiftAssignmentID),
		Type:           enums.LedgerEntryOpen,
		AmountCents:    input.GrossCents,
		Actor:          actor,
		IdempotencyKey: OpenKey(input.ShiftAssignmentID),
		Payload:        payload,
	})
	if err != nil {
		return nil, err
	}
	if res.Replayed {
		if err := sameTerms(res, input); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// FindOpenReplay returns the committed open for the input's shift, or nil
// when the shift has no escrow yet. Callers use it after losing an insert
// race to a concurrent open.
func (s *service) FindOpenReplay(ctx context.Context, input OpenInput) (*ledger.AppendResult, error) {
	res, err := s.ledger.FindReplay(ctx, ledger.AppendInput{
		PaymentID:      PaymentIDForShift(input.ShiftAssignmentID),
		Type:           enums.LedgerEntryOpen,
		IdempotencyKey: OpenKey(input.ShiftAssignmentID),
	})
	if err != nil || res == nil {
		return res, err
	}
	if err := sameTerms(res, input); err != nil {
		return nil, err
	}
	return res, nil
}

func sameTerms(res *ledger.AppendResult, input OpenInput) error {
	if res.Payment.GrossCents == input.GrossCents {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "shift assignment already has an escrow with different terms").
		WithDetails(map[string]any{
			"payment_id":  res.Payment.ID,
			"gross_cents": res.Payment.GrossCents,
		})
}

func (s *service) holdPeriod(requested time.Duration) (time.Duration, error) {
	if requested == 0 {
		return s.cfg.HoldPeriod, nil
	}
	if requested < s.cfg.MinHoldPeriod || requested > s.cfg.HoldPeriod {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "hold period outside policy bounds").
			WithDetails(map[string]any{
				"min_hold_period": s.cfg.MinHoldPeriod.String(),
				"max_hold_period": s.cfg.HoldPeriod.String(),
			})
	}
	return requested, nil
}

func (s *service) HoldTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input HoldInput) (*ledger.AppendResult, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "hold reason is required")
	}
	return s.ledger.AppendTx(ctx, tx, ledger.AppendInput{
		PaymentID:      input.PaymentID,
		Type:           enums.LedgerEntryHold,
		Actor:          actor,
		IdempotencyKey: keyOrDefault(input.IdempotencyKey, "escrow:hold", input.PaymentID),
		Payload:        ledger.HoldPayload{Reason: reason},
	})
}

func (s *service) UnholdTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input UnholdInput) (*ledger.AppendResult, error) {
	return s.ledger.AppendTx(ctx, tx, ledger.AppendInput{
		PaymentID:      input.PaymentID,
		Type:           enums.LedgerEntryUnhold,
		Actor:          actor,
		IdempotencyKey: keyOrDefault(input.IdempotencyKey, "escrow:unhold", input.PaymentID),
		Payload:        ledger.UnholdPayload{Note: strings.TrimSpace(input.Note)},
	})
}

func (s *service) ReleaseTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input ReleaseInput) (*ledger.AppendResult, error) {
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		key = ReleaseKey(input.PaymentID)
	}
	return s.ledger.AppendTx(ctx, tx, ledger.AppendInput{
		PaymentID:      input.PaymentID,
		Type:           enums.LedgerEntryRelease,
		Actor:          actor,
		IdempotencyKey: key,
		Payload: ledger.ReleasePayload{
			Override:  input.Override,
			Reason:    strings.TrimSpace(input.Reason),
			DisputeID: input.DisputeID,
		},
	})
}

func (s *service) ListDueForRelease(ctx context.Context, asOf time.Time, limit int) ([]models.Payment, error) {
	payments, err := s.repo.ListDueForRelease(ctx, asOf, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments due for release")
	}
	return payments, nil
}

// IsDue reports whether a payment may be auto-released at asOf.
func IsDue(p models.Payment, asOf time.Time) bool {
	return p.Status == enums.PaymentStatusInEscrow && !p.IsFlagged && !asOf.Before(p.ScheduledReleaseAt)
}

func keyOrDefault(key, prefix string, paymentID uuid.UUID) string {
	if k := strings.TrimSpace(key); k != "" {
		return k
	}
	return fmt.Sprintf("%s:%s:%s", prefix, paymentID, uuid.NewString())
}
