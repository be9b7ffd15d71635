package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/internal/disputes"
	"github.com/angelmondragon/shiftpay-backend/internal/escrow"
	"github.com/angelmondragon/shiftpay-backend/internal/ledger"
	"github.com/angelmondragon/shiftpay-backend/internal/payouts"
	"github.com/angelmondragon/shiftpay-backend/internal/refunds"
	"github.com/angelmondragon/shiftpay-backend/pkg/db"
	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
	"github.com/angelmondragon/shiftpay-backend/pkg/outbox"
	"github.com/angelmondragon/shiftpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/shiftpay-backend/pkg/types"
)

const (
	defaultBatchLimit = 500

	reasonDisputeRejected = "dispute_rejected"
	reasonDisputeUpheld   = "dispute_upheld"
)

// Service is the command and query surface of the settlement engine. Every
// command takes the acting principal explicitly and runs in one database
// transaction together with its outbox events.
type Service interface {
	OpenEscrow(ctx context.Context, actor types.Actor, input escrow.OpenInput) (*PaymentResult, error)
	Hold(ctx context.Context, actor types.Actor, input escrow.HoldInput) (*PaymentResult, error)
	Unhold(ctx context.Context, actor types.Actor, input escrow.UnholdInput) (*PaymentResult, error)
	Release(ctx context.Context, actor types.Actor, input escrow.ReleaseInput) (*ReleaseResult, error)
	ReleaseAllDue(ctx context.Context, actor types.Actor, asOf time.Time) (*BatchResult, error)

	OpenDispute(ctx context.Context, actor types.Actor, input disputes.OpenInput) (*DisputeResult, error)
	ReviewDispute(ctx context.Context, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error)
	RequestDisputeResponse(ctx context.Context, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error)
	EscalateDispute(ctx context.Context, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error)
	ResolveDispute(ctx context.Context, actor types.Actor, input disputes.ResolveInput) (*ResolveResult, error)
	ScanSLABreaches(ctx context.Context, actor types.Actor, asOf time.Time) ([]models.Dispute, error)

	Refund(ctx context.Context, actor types.Actor, input refunds.Input) (*refunds.Result, error)

	DispatchPayout(ctx context.Context, actor types.Actor, input payouts.RecipientInput) (*payouts.Result, error)
	DispatchAllPending(ctx context.Context, actor types.Actor) (*BatchResult, error)
	RetryPayout(ctx context.Context, actor types.Actor, payoutID uuid.UUID) (*payouts.Result, error)
	RetryAllFailedPayouts(ctx context.Context, actor types.Actor) (*BatchResult, error)
	RetryDuePayouts(ctx context.Context, actor types.Actor, asOf time.Time) (*BatchResult, error)
	SweepStalePayouts(ctx context.Context, actor types.Actor, asOf time.Time) ([]models.Payout, error)
	RegisterPayoutMethod(ctx context.Context, actor types.Actor, input payouts.MethodInput) (*models.PayoutMethod, error)

	GetPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	ListPayments(ctx context.Context, filter ledger.PaymentFilter) ([]models.Payment, error)
	ListDueForRelease(ctx context.Context, asOf time.Time, limit int) ([]models.Payment, error)
	ListLedgerEntries(ctx context.Context, paymentID uuid.UUID) (*LedgerView, error)
	GetDispute(ctx context.Context, paymentID uuid.UUID) (*DisputeView, error)
	SLAStatus(ctx context.Context, disputeID uuid.UUID) (*disputes.SLAView, error)
	ListPayouts(ctx context.Context, filter payouts.Filter) ([]models.Payout, error)
	GetPayout(ctx context.Context, payoutID uuid.UUID) (*payouts.Detail, error)
	FinanceSummary(ctx context.Context, from, to time.Time) (*FinanceSummary, error)
}

type PaymentResult struct {
	Payment  models.Payment `json:"payment"`
	Replayed bool           `json:"replayed"`
}

// ReleaseResult is a released payment and the payout items it queued.
type ReleaseResult struct {
	Payment  models.Payment      `json:"payment"`
	Queued   []models.PayoutItem `json:"queued,omitempty"`
	Replayed bool                `json:"replayed"`
}

type DisputeResult struct {
	Dispute  models.Dispute `json:"dispute"`
	Payment  models.Payment `json:"payment"`
	Replayed bool           `json:"replayed"`
}

// ResolveResult carries the settlement that followed a resolution: a release
// for rejected disputes, a full refund for upheld ones.
type ResolveResult struct {
	Dispute models.Dispute `json:"dispute"`
	Payment models.Payment `json:"payment"`
	Refund  *models.Refund `json:"refund,omitempty"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	DB           txRunner
	Ledger       ledger.Service
	LedgerRepo   ledger.Repository
	Escrow       escrow.Service
	Disputes     disputes.Service
	Refunds      refunds.Service
	Payouts      payouts.Service
	Outbox       outbox.Emitter
	Logger       *logger.Logger
	BatchWorkers int
	Now          func() time.Time
}

type service struct {
	db         txRunner
	ledger     ledger.Service
	ledgerRepo ledger.Repository
	escrow     escrow.Service
	disputes   disputes.Service
	refunds    refunds.Service
	payouts    payouts.Service
	outbox     outbox.Emitter
	logg       *logger.Logger
	workers    int
	now        func() time.Time
}

// NewService wires the settlement coordinator.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Ledger == nil || params.LedgerRepo == nil:
		return nil, fmt.Errorf("ledger service and repository required")
	case params.Escrow == nil:
		return nil, fmt.Errorf("escrow service required")
	case params.Disputes == nil:
		return nil, fmt.Errorf("dispute service required")
	case params.Refunds == nil:
		return nil, fmt.Errorf("refund service required")
	case params.Payouts == nil:
		return nil, fmt.Errorf("payout service required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	workers := params.BatchWorkers
	if workers <= 0 {
		workers = 1
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		db:         params.DB,
		ledger:     params.Ledger,
		ledgerRepo: params.LedgerRepo,
		escrow:     params.Escrow,
		disputes:   params.Disputes,
		refunds:    params.Refunds,
		payouts:    params.Payouts,
		outbox:     params.Outbox,
		logg:       params.Logger,
		workers:    workers,
		now:        now,
	}, nil
}

func (s *service) OpenEscrow(ctx context.Context, actor types.Actor, input escrow.OpenInput) (*PaymentResult, error) {
	if err := authorize(actor, enums.ActorKindService); err != nil {
		return nil, err
	}
	var out PaymentResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := s.escrow.OpenTx(ctx, tx, actor, input)
		if err != nil {
			return err
		}
		out = PaymentResult{Payment: res.Payment, Replayed: res.Replayed}
		if res.Replayed {
			return nil
		}
		return s.emit(ctx, tx, actor, enums.EventEscrowOpened, enums.AggregatePayment, res.Payment.ID, payloads.NewEscrowOpened(res.Payment))
	})
	if err != nil {
		// a concurrent open for the same shift committed first
		if !db.IsUniqueViolation(err, "") {
			return nil, err
		}
		replay, rerr := s.escrow.FindOpenReplay(ctx, input)
		if rerr != nil {
			return nil, rerr
		}
		if replay == nil {
			return nil, err
		}
		out = PaymentResult{Payment: replay.Payment, Replayed: true}
	}
	s.logPayment(ctx, actor, out.Payment.ID, "escrow opened", map[string]any{
		"gross_cents": out.Payment.GrossCents,
		"replayed":    out.Replayed,
	})
	return &out, nil
}

func (s *service) Hold(ctx context.Context, actor types.Actor, input escrow.HoldInput) (*PaymentResult, error) {
	if err := authorize(actor, enums.ActorKindAdmin); err != nil {
		return nil, err
	}
	var out PaymentResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := s.escrow.HoldTx(ctx, tx, actor, input)
		if err != nil {
			return err
		}
		out = PaymentResult{Payment: res.Payment, Replayed: res.Replayed}
		if res.Replayed {
			return nil
		}
		return s.emit(ctx, tx, actor, enums.EventPaymentHeld, enums.AggregatePayment, res.Payment.ID, payloads.NewPaymentStatus(res.Payment, input.Reason))
	})
	if err != nil {
		return nil, err
	}
	s.logPayment(ctx, actor, out.Payment.ID, "payment held", map[string]any{"reason": input.Reason})
	return &out, nil
}

func (s *service) Unhold(ctx context.Context, actor types.Actor, input escrow.UnholdInput) (*PaymentResult, error) {
	if err := authorize(actor, enums.ActorKindAdmin); err != nil {
		return nil, err
	}
	var out PaymentResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := s.escrow.UnholdTx(ctx, tx, actor, input)
		if err != nil {
			return err
		}
		out = PaymentResult{Payment: res.Payment, Replayed: res.Replayed}
		if res.Replayed {
			return nil
		}
		return s.emit(ctx, tx, actor, enums.EventPaymentUnheld, enums.AggregatePayment, res.Payment.ID, payloads.NewPaymentStatus(res.Payment, input.Note))
	})
	if err != nil {
		return nil, err
	}
	s.logPayment(ctx, actor, out.Payment.ID, "payment unheld", map[string]any{
		"scheduled_release_at": out.Payment.ScheduledReleaseAt,
	})
	return &out, nil
}

// Release releases one payment and queues its payout portions. Overrides
// skip the scheduled time and are admin-only.
func (s *service) Release(ctx context.Context, actor types.Actor, input escrow.ReleaseInput) (*ReleaseResult, error) {
	kinds := []enums.ActorKind{enums.ActorKindAdmin, enums.ActorKindSystem}
	if input.Override {
		kinds = []enums.ActorKind{enums.ActorKindAdmin}
	}
	if err := authorize(actor, kinds...); err != nil {
		return nil, err
	}
	var out *ReleaseResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = s.releaseTx(ctx, tx, actor, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logPayment(ctx, actor, out.Payment.ID, "payment released", map[string]any{
		"override": input.Override,
		"queued":   len(out.Queued),
		"replayed": out.Replayed,
	})
	return out, nil
}

func (s *service) releaseTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input escrow.ReleaseInput) (*ReleaseResult, error) {
	res, err := s.escrow.ReleaseTx(ctx, tx, actor, input)
	if err != nil {
		return nil, err
	}
	// replays still enqueue: a crash between release and enqueue must heal
	queued, err := s.payouts.EnqueueReleaseTx(ctx, tx, res.Payment)
	if err != nil {
		return nil, err
	}
	out := &ReleaseResult{Payment: res.Payment, Queued: queued, Replayed: res.Replayed}
	if res.Replayed {
		return out, nil
	}
	event := payloads.NewPaymentReleased(res.Payment, input.Override, input.DisputeID)
	if err := s.emit(ctx, tx, actor, enums.EventPaymentReleased, enums.AggregatePayment, res.Payment.ID, event); err != nil {
		return nil, err
	}
	return out, nil
}

// ReleaseAllDue releases every payment due at asOf. Overlapping runs collapse
// on the shared release key.
func (s *service) ReleaseAllDue(ctx context.Context, actor types.Actor, asOf time.Time) (*BatchResult, error) {
	if err := authorize(actor, enums.ActorKindAdmin, enums.ActorKindSystem); err != nil {
		return nil, err
	}
	due, err := s.escrow.ListDueForRelease(ctx, asOf, defaultBatchLimit)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(due))
	for _, p := range due {
		ids = append(ids, p.ID)
	}
	result := runBatch(ctx, ids, s.workers, "released", func(ctx context.Context, id uuid.UUID) error {
		_, err := s.Release(ctx, actor, escrow.ReleaseInput{PaymentID: id})
		return err
	})
	s.logBatch(ctx, actor, "release due complete", result)
	return result, nil
}

func (s *service) OpenDispute(ctx context.Context, actor types.Actor, input disputes.OpenInput) (*DisputeResult, error) {
	if err := authorize(actor, enums.ActorKindService, enums.ActorKindAdmin); err != nil {
		return nil, err
	}
	var out DisputeResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := s.disputes.OpenTx(ctx, tx, actor, input)
		if err != nil {
			return err
		}
		out = DisputeResult{Dispute: res.Dispute, Payment: res.Append.Payment, Replayed: res.Append.Replayed}
		if out.Replayed {
			return nil
		}
		return s.emit(ctx, tx, actor, enums.EventDisputeOpened, enums.AggregateDispute, res.Dispute.ID, payloads.NewDispute(res.Dispute))
	})
	if err != nil {
		return nil, err
	}
	s.logDispute(ctx, actor, out.Dispute, "dispute opened")
	return &out, nil
}

func (s *service) ReviewDispute(ctx context.Context, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	return s.moveDispute(ctx, actor, disputeID, s.disputes.ReviewTx, "", "dispute under review")
}

func (s *service) RequestDisputeResponse(ctx context.Context, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	return s.moveDispute(ctx, actor, disputeID, s.disputes.RequestResponseTx, "", "dispute awaiting response")
}

func (s *service) EscalateDispute(ctx context.Context, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error) {
	return s.moveDispute(ctx, actor, disputeID, s.disputes.EscalateTx, enums.EventDisputeEscalated, "dispute escalated")
}

type disputeMove func(ctx context.Context, tx *gorm.DB, actor types.Actor, disputeID uuid.UUID) (*models.Dispute, error)

func (s *service) moveDispute(ctx context.Context, actor types.Actor, disputeID uuid.UUID, move disputeMove, event enums.OutboxEventType, msg string) (*models.Dispute, error) {
	if err := authorize(actor, enums.ActorKindAdmin); err != nil {
		return nil, err
	}
	var out *models.Dispute
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		dispute, err := move(ctx, tx, actor, disputeID)
		if err != nil {
			return err
		}
		out = dispute
		if event == "" {
			return nil
		}
		return s.emit(ctx, tx, actor, event, enums.AggregateDispute, dispute.ID, payloads.NewDispute(*dispute))
	})
	if err != nil {
		return nil, err
	}
	s.logDispute(ctx, actor, *out, msg)
	return out, nil
}

// ResolveDispute closes a dispute and settles its payment in the same
// transaction: rejected releases the funds, upheld refunds them in full.
func (s *service) ResolveDispute(ctx context.Context, actor types.Actor, input disputes.ResolveInput) (*ResolveResult, error) {
	if err := authorize(actor, enums.ActorKindAdmin); err != nil {
		return nil, err
	}
	var out ResolveResult
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := s.disputes.ResolveTx(ctx, tx, actor, input)
		if err != nil {
			return err
		}
		dispute := res.Dispute
		out = ResolveResult{Dispute: dispute, Payment: res.Append.Payment}
		if err := s.emit(ctx, tx, actor, enums.EventDisputeResolved, enums.AggregateDispute, dispute.ID, payloads.NewDispute(dispute)); err != nil {
			return err
		}

		switch input.Outcome {
		case enums.DisputeOutcomeRejected:
			id := dispute.ID
			released, err := s.releaseTx(ctx, tx, actor, escrow.ReleaseInput{
				PaymentID: dispute.PaymentID,
				Reason:    reasonDisputeRejected,
				DisputeID: &id,
			})
			if err != nil {
				return err
			}
			out.Payment = released.Payment
		case enums.DisputeOutcomeUpheld:
			refunded, err := s.refundTx(ctx, tx, actor, refunds.Input{
				PaymentID:      dispute.PaymentID,
				Type:           enums.RefundTypeFull,
				Trigger:        enums.RefundTriggerManual,
				Reason:         reasonDisputeUpheld,
				IdempotencyKey: "dispute:" + dispute.ID.String() + ":refund",
			})
			if err != nil {
				return err
			}
			refund := refunded.Refund
			out.Payment = refunded.Append.Payment
			out.Refund = &refund
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logDispute(ctx, actor, out.Dispute, "dispute resolved")
	return &out, nil
}

// ScanSLABreaches marks unresolved disputes past their deadline. The breach
// is persisted so it stays visible after the dispute moves on.
func (s *service) ScanSLABreaches(ctx context.Context, actor types.Actor, asOf time.Time) ([]models.Dispute, error) {
	if err := authorize(actor, enums.ActorKindSystem, enums.ActorKindAdmin); err != nil {
		return nil, err
	}
	var marked []models.Dispute
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		marked, err = s.disputes.ScanBreachesTx(ctx, tx, asOf, defaultBatchLimit)
		if err != nil {
			return err
		}
		for _, d := range marked {
			if err := s.emit(ctx, tx, actor, enums.EventDisputeSLABreached, enums.AggregateDispute, d.ID, payloads.NewDispute(d)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, d := range marked {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"dispute_id":   d.ID.String(),
			"payment_id":   d.PaymentID.String(),
			"sla_deadline": d.SLADeadline,
		}), "dispute sla breached")
	}
	return marked, nil
}

// Refund records a refund and shrinks any queued payout that carried the
// refunded money. Rejected requests are stored as failed refunds.
func (s *service) Refund(ctx context.Context, actor types.Actor, input refunds.Input) (*refunds.Result, error) {
	kinds := []enums.ActorKind{enums.ActorKindAdmin}
	if input.Trigger == enums.RefundTriggerAuto {
		kinds = []enums.ActorKind{enums.ActorKindService, enums.ActorKindSystem}
	}
	if err := authorize(actor, kinds...); err != nil {
		return nil, err
	}
	var out *refunds.Result
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = s.refundTx(ctx, tx, actor, input)
		return err
	})
	if err != nil {
		if recordable(err) {
			if _, rerr := s.refunds.RecordFailure(ctx, actor, input, err); rerr != nil {
				s.logg.Error(ctx, "record failed refund", rerr)
			}
		}
		return nil, err
	}
	s.logPayment(ctx, actor, input.PaymentID, "refund recorded", map[string]any{
		"refund_id":    out.Refund.ID.String(),
		"amount_cents": out.Refund.AmountCents,
		"type":         out.Refund.Type,
		"trigger":      out.Refund.Trigger,
		"replayed":     out.Replayed,
	})
	return out, nil
}

func (s *service) refundTx(ctx context.Context, tx *gorm.DB, actor types.Actor, input refunds.Input) (*refunds.Result, error) {
	res, err := s.refunds.RefundTx(ctx, tx, actor, input)
	if err != nil {
		return nil, err
	}
	if res.Replayed {
		return res, nil
	}
	payment := res.Append.Payment
	if err := s.payouts.ReconcileTx(ctx, tx, payment); err != nil {
		return nil, err
	}
	event := payloads.NewPaymentRefunded(payment, res.Refund)
	if err := s.emit(ctx, tx, actor, enums.EventPaymentRefunded, enums.AggregateRefund, res.Refund.ID, event); err != nil {
		return nil, err
	}
	if res.Refund.ShortfallCents > 0 {
		if err := s.emit(ctx, tx, actor, enums.EventRefundShortfall, enums.AggregateRefund, res.Refund.ID, event); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// recordable reports whether a rejected refund is worth keeping as a failed
// refund row. Malformed and unauthorized requests are not.
func recordable(err error) bool {
	for _, code := range []pkgerrors.Code{pkgerrors.CodeValidation, pkgerrors.CodeForbidden, pkgerrors.CodeUnauthorized, pkgerrors.CodeNotFound} {
		if pkgerrors.IsCode(err, code) {
			return false
		}
	}
	return true
}

func (s *service) DispatchPayout(ctx context.Context, actor types.Actor, input payouts.RecipientInput) (*payouts.Result, error) {
	if err := authorize(actor, enums.ActorKindAdmin, enums.ActorKindSystem); err != nil {
		return nil, err
	}
	res, err := s.payouts.DispatchForRecipient(ctx, actor, input)
	s.logPayout(ctx, actor, res, err, "payout dispatched")
	return res, err
}

func (s *service) DispatchAllPending(ctx context.Context, actor types.Actor) (*BatchResult, error) {
	if err := authorize(actor, enums.ActorKindAdmin, enums.ActorKindSystem); err != nil {
		return nil, err
	}
	pending, err := s.payouts.ListPending(ctx, defaultBatchLimit)
	if err != nil {
		return nil, err
	}
	result := runBatch(ctx, payoutIDs(pending), s.workers, "dispatched", func(ctx context.Context, id uuid.UUID) error {
		res, err := s.payouts.Dispatch(ctx, actor, id)
		s.logPayout(ctx, actor, res, err, "payout dispatched")
		return err
	})
	s.logBatch(ctx, actor, "pending payout dispatch complete", result)
	return result, nil
}

func (s *service) RetryPayout(ctx context.Context, actor types.Actor, payoutID uuid.UUID) (*payouts.Result, error) {
	if err := authorize(actor, enums.ActorKindAdmin); err != nil {
		return nil, err
	}
	res, err := s.payouts.Retry(ctx, actor, payoutID)
	s.logPayout(ctx, actor, res, err, "payout retried")
	return res, err
}

// RetryAllFailedPayouts retries every failed payout regardless of its retry
// schedule. Payouts at the attempt ceiling report PAYOUT_ATTEMPTS_EXHAUSTED.
func (s *service) RetryAllFailedPayouts(ctx context.Context, actor types.Actor) (*BatchResult, error) {
	if err := authorize(actor, enums.ActorKindAdmin); err != nil {
		return nil, err
	}
	failed, err := s.payouts.ListFailed(ctx, defaultBatchLimit)
	if err != nil {
		return nil, err
	}
	return s.retryBatch(ctx, actor, failed, "retry all failed complete"), nil
}

// RetryDuePayouts retries transient failures whose backoff has elapsed.
func (s *service) RetryDuePayouts(ctx context.Context, actor types.Actor, asOf time.Time) (*BatchResult, error) {
	if err := authorize(actor, enums.ActorKindSystem, enums.ActorKindAdmin); err != nil {
		return nil, err
	}
	due, err := s.payouts.ListDueRetries(ctx, asOf, defaultBatchLimit)
	if err != nil {
		return nil, err
	}
	return s.retryBatch(ctx, actor, due, "due payout retry complete"), nil
}

func (s *service) retryBatch(ctx context.Context, actor types.Actor, list []models.Payout, msg string) *BatchResult {
	result := runBatch(ctx, payoutIDs(list), s.workers, "retried", func(ctx context.Context, id uuid.UUID) error {
		res, err := s.payouts.Retry(ctx, actor, id)
		s.logPayout(ctx, actor, res, err, "payout retried")
		return err
	})
	s.logBatch(ctx, actor, msg, result)
	return result
}

func (s *service) SweepStalePayouts(ctx context.Context, actor types.Actor, asOf time.Time) ([]models.Payout, error) {
	if err := authorize(actor, enums.ActorKindSystem, enums.ActorKindAdmin); err != nil {
		return nil, err
	}
	swept, err := s.payouts.SweepStale(ctx, asOf, defaultBatchLimit)
	for _, p := range swept {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"payout_id":     p.ID.String(),
			"attempt_count": p.AttemptCount,
		}), "stale processing payout failed")
	}
	return swept, err
}

func (s *service) RegisterPayoutMethod(ctx context.Context, actor types.Actor, input payouts.MethodInput) (*models.PayoutMethod, error) {
	if err := authorize(actor, enums.ActorKindAdmin, enums.ActorKindService); err != nil {
		return nil, err
	}
	method, err := s.payouts.RegisterMethod(ctx, input)
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"recipient_type": method.RecipientType,
		"recipient_id":   method.RecipientID.String(),
		"method":         method.Method,
	}), "payout method registered")
	return method, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, actor types.Actor, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, aggregateID uuid.UUID, data any) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: aggregate,
		AggregateID:   aggregateID,
		Actor:         outbox.ActorFrom(actor),
		Data:          data,
		OccurredAt:    s.now().UTC(),
	})
}

// authorize checks the actor is well formed and has one of the allowed kinds.
func authorize(actor types.Actor, kinds ...enums.ActorKind) error {
	if err := actor.Validate(); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "missing or invalid actor")
	}
	if !actor.Is(kinds...) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "actor is not allowed to perform this action").
			WithDetails(map[string]any{"actor_kind": actor.Kind})
	}
	return nil
}

func payoutIDs(list []models.Payout) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	return ids
}

func (s *service) withActor(ctx context.Context, actor types.Actor) context.Context {
	return s.logg.WithActor(ctx, string(actor.Kind), actor.ID)
}

func (s *service) logPayment(ctx context.Context, actor types.Actor, paymentID uuid.UUID, msg string, fields map[string]any) {
	logCtx := s.logg.WithPaymentID(s.withActor(ctx, actor), paymentID.String())
	s.logg.Info(s.logg.WithFields(logCtx, fields), msg)
}

func (s *service) logDispute(ctx context.Context, actor types.Actor, d models.Dispute, msg string) {
	logCtx := s.logg.WithPaymentID(s.withActor(ctx, actor), d.PaymentID.String())
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"dispute_id": d.ID.String(),
		"status":     d.Status,
	}), msg)
}

func (s *service) logPayout(ctx context.Context, actor types.Actor, res *payouts.Result, err error, msg string) {
	logCtx := s.withActor(ctx, actor)
	if res != nil {
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"payout_id":     res.Payout.ID.String(),
			"status":        res.Payout.Status,
			"attempt_count": res.Payout.AttemptCount,
			"amount_cents":  res.Payout.AmountCents,
		})
	}
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), msg+" with error")
		return
	}
	s.logg.Info(logCtx, msg)
}

func (s *service) logBatch(ctx context.Context, actor types.Actor, msg string, result *BatchResult) {
	s.logg.Info(s.logg.WithFields(s.withActor(ctx, actor), map[string]any{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"summary":   result.Summary,
	}), msg)
}
