package ledger

import (
	"fmt"
	"time"

	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
	"github.com/angelmondragon/shiftpay-backend/pkg/money"
)

const shortfallReason = "refund shortfall requires manual reconciliation"

// Apply folds one entry into the payment state. It is the only place payment
// state changes, so appending and replaying share the same rules. Apply
// fills in the amount of a full refund when the entry carries none.
func Apply(p *models.Payment, e *models.LedgerEntry) error {
	if e.Type != enums.LedgerEntryOpen && p.Status == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidTransition, "escrow has not been opened").
			WithDetails(map[string]any{"entry_type": e.Type})
	}
	if p.Status == enums.PaymentStatusRefunded {
		return invalidTransition(p, e, "refunded payments are final")
	}

	at := e.OccurredAt
	var err error
	switch e.Type {
	case enums.LedgerEntryOpen:
		err = applyOpen(p, e)
	case enums.LedgerEntryHold:
		err = applyHold(p, e, at)
	case enums.LedgerEntryUnhold:
		err = applyUnhold(p, e, at)
	case enums.LedgerEntryRelease:
		err = applyRelease(p, e, at)
	case enums.LedgerEntryDisputeOpen:
		err = applyDisputeOpen(p, e)
	case enums.LedgerEntryDisputeResolve:
		err = applyDisputeResolve(p, e)
	case enums.LedgerEntryPartialRefund:
		err = applyPartialRefund(p, e, at)
	case enums.LedgerEntryFullRefund:
		err = applyFullRefund(p, e, at)
	case enums.LedgerEntryPayoutAttempt, enums.LedgerEntryPayoutSuccess, enums.LedgerEntryPayoutFailure:
		err = applyPayout(p, e, at)
	default:
		err = pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown ledger entry type %q", e.Type))
	}
	if err != nil {
		return err
	}

	p.LastSequence = e.Sequence
	p.LastEntryAt = at
	return nil
}

func applyOpen(p *models.Payment, e *models.LedgerEntry) error {
	if p.Status != "" {
		return invalidTransition(p, e, "escrow already opened")
	}
	pl, err := Decode[OpenPayload](e.Payload)
	if err != nil {
		return err
	}
	if pl.GrossCents <= 0 || pl.WorkerCents < 0 || pl.PlatformFeeCents < 0 || pl.AgencyCommissionCents < 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "escrow amounts must be non-negative with a positive gross")
	}
	if pl.WorkerCents+pl.PlatformFeeCents+pl.AgencyCommissionCents != pl.GrossCents {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "split does not sum to gross amount")
	}
	if pl.AgencyID == nil && pl.AgencyCommissionCents != 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "agency commission requires an agency")
	}
	if e.AmountCents != pl.GrossCents {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "open entry amount must equal gross amount")
	}

	p.ShiftAssignmentID = pl.ShiftAssignmentID
	p.WorkerID = pl.WorkerID
	p.BusinessID = pl.BusinessID
	p.AgencyID = pl.AgencyID
	p.Currency = pl.Currency
	p.GrossCents = pl.GrossCents
	p.WorkerCents = pl.WorkerCents
	p.PlatformFeeCents = pl.PlatformFeeCents
	p.AgencyCommissionCents = pl.AgencyCommissionCents
	p.Status = enums.PaymentStatusInEscrow
	p.EscrowStartedAt = e.OccurredAt
	p.ScheduledReleaseAt = e.OccurredAt.Add(pl.HoldPeriod)
	return nil
}

func applyHold(p *models.Payment, e *models.LedgerEntry, at time.Time) error {
	if p.Status != enums.PaymentStatusInEscrow || p.IsFlagged {
		return invalidTransition(p, e, "only unflagged escrowed payments can be held")
	}
	pl, err := Decode[HoldPayload](e.Payload)
	if err != nil {
		return err
	}
	reason := pl.Reason
	p.IsFlagged = true
	p.FlaggedReason = &reason
	p.FlaggedAt = timePtr(at)
	return nil
}

// applyUnhold resumes the grace period that remained when the hold was
// placed. Time spent held does not count against it.
func applyUnhold(p *models.Payment, e *models.LedgerEntry, at time.Time) error {
	if p.Status != enums.PaymentStatusInEscrow || !p.IsFlagged {
		return invalidTransition(p, e, "only held escrowed payments can be unheld")
	}
	remaining := time.Duration(0)
	if p.FlaggedAt != nil {
		remaining = p.ScheduledReleaseAt.Sub(*p.FlaggedAt)
	}
	if remaining < 0 {
		remaining = 0
	}
	p.ScheduledReleaseAt = at.Add(remaining)
	p.IsFlagged = false
	p.FlaggedReason = nil
	p.FlaggedAt = nil
	return nil
}

func applyRelease(p *models.Payment, e *models.LedgerEntry, at time.Time) error {
	pl, err := Decode[ReleasePayload](e.Payload)
	if err != nil {
		return err
	}
	switch p.Status {
	case enums.PaymentStatusInEscrow:
		if p.IsFlagged {
			return invalidTransition(p, e, "payment is on hold")
		}
		if !pl.Override && at.Before(p.ScheduledReleaseAt) {
			return invalidTransition(p, e, "release is not yet due").
				WithDetails(map[string]any{
					"payment_id":           p.ID,
					"scheduled_release_at": p.ScheduledReleaseAt,
				})
		}
	case enums.PaymentStatusDisputed:
		if p.HasActiveDispute() {
			return invalidTransition(p, e, "payment has an active dispute")
		}
		// the dispute outcome supersedes any hold placed before it opened
		p.IsFlagged = false
		p.FlaggedReason = nil
		p.FlaggedAt = nil
	default:
		return invalidTransition(p, e, "payment is not held in escrow")
	}
	p.Status = enums.PaymentStatusReleased
	p.ReleasedAt = timePtr(at)
	settle(p, at)
	return nil
}

func applyDisputeOpen(p *models.Payment, e *models.LedgerEntry) error {
	if p.HasActiveDispute() {
		return invalidTransition(p, e, "payment already has an active dispute")
	}
	if p.Status != enums.PaymentStatusInEscrow {
		return invalidTransition(p, e, "disputes can only be opened while funds are in escrow")
	}
	pl, err := Decode[DisputePayload](e.Payload)
	if err != nil {
		return err
	}
	id := pl.DisputeID
	p.ActiveDisputeID = &id
	p.Status = enums.PaymentStatusDisputed
	return nil
}

func applyDisputeResolve(p *models.Payment, e *models.LedgerEntry) error {
	pl, err := Decode[DisputePayload](e.Payload)
	if err != nil {
		return err
	}
	if !p.HasActiveDispute() || *p.ActiveDisputeID != pl.DisputeID {
		return pkgerrors.New(pkgerrors.CodeNoActiveDispute, "payment has no matching active dispute").
			WithDetails(map[string]any{"payment_id": p.ID, "dispute_id": pl.DisputeID})
	}
	p.ActiveDisputeID = nil
	return nil
}

func applyPartialRefund(p *models.Payment, e *models.LedgerEntry, at time.Time) error {
	switch p.Status {
	case enums.PaymentStatusInEscrow, enums.PaymentStatusReleased, enums.PaymentStatusDisputed, enums.PaymentStatusPaidOut:
	default:
		return invalidTransition(p, e, "payment cannot be refunded")
	}
	amount := -e.AmountCents
	alloc, err := money.Allocate(amount, refundable(p))
	if err != nil {
		return err
	}
	drained := amount == refundable(p).Total() && p.InFlightWorkerCents+p.InFlightAgencyCents == 0 && p.PaidOutCents() == 0
	if drained && p.HasActiveDispute() {
		return invalidTransition(p, e, "resolve the active dispute to refund in full")
	}
	addRefund(p, alloc)
	if drained {
		// nothing was ever paid out, so the payment ends refunded
		p.Status = enums.PaymentStatusRefunded
		p.RefundedAt = timePtr(at)
		return nil
	}
	settle(p, at)
	return nil
}

func applyFullRefund(p *models.Payment, e *models.LedgerEntry, at time.Time) error {
	switch p.Status {
	case enums.PaymentStatusInEscrow, enums.PaymentStatusReleased, enums.PaymentStatusDisputed, enums.PaymentStatusPaidOut:
	default:
		return invalidTransition(p, e, "payment cannot be refunded")
	}
	if p.HasActiveDispute() {
		return invalidTransition(p, e, "resolve the active dispute to refund in full")
	}
	if p.InFlightWorkerCents > 0 || p.InFlightAgencyCents > 0 {
		return invalidTransition(p, e, "a payout is in flight for this payment")
	}

	alloc := refundable(p)
	if e.AmountCents == 0 {
		e.AmountCents = -alloc.Total()
	} else if -e.AmountCents != alloc.Total() {
		return pkgerrors.New(pkgerrors.CodeInternal, "full refund amount does not match refundable balance").
			WithDetails(map[string]any{"entry_amount": e.AmountCents, "refundable": alloc.Total()})
	}
	addRefund(p, alloc)

	p.ShortfallCents = p.GrossCents - p.RefundedCents()
	if p.ShortfallCents > 0 {
		reason := shortfallReason
		p.IsFlagged = true
		p.FlaggedReason = &reason
		p.FlaggedAt = timePtr(at)
	}
	p.Status = enums.PaymentStatusRefunded
	p.RefundedAt = timePtr(at)
	return nil
}

func applyPayout(p *models.Payment, e *models.LedgerEntry, at time.Time) error {
	if p.Status != enums.PaymentStatusReleased {
		return invalidTransition(p, e, "payouts require a released payment")
	}
	pl, err := Decode[PayoutPayload](e.Payload)
	if err != nil {
		return err
	}
	if pl.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "payout amount must be positive")
	}

	var inFlight, paid *int64
	switch pl.RecipientType {
	case enums.RecipientTypeWorker:
		inFlight, paid = &p.InFlightWorkerCents, &p.PaidOutWorkerCents
	case enums.RecipientTypeAgency:
		inFlight, paid = &p.InFlightAgencyCents, &p.PaidOutAgencyCents
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid recipient type %q", pl.RecipientType))
	}

	switch e.Type {
	case enums.LedgerEntryPayoutAttempt:
		if pl.AmountCents > p.QueuedCents(pl.RecipientType) {
			return pkgerrors.New(pkgerrors.CodeInsufficientBalance, "payout exceeds queued balance").
				WithDetails(map[string]any{"payment_id": p.ID, "recipient_type": pl.RecipientType})
		}
		*inFlight += pl.AmountCents
	case enums.LedgerEntryPayoutSuccess:
		if pl.AmountCents > *inFlight {
			return pkgerrors.New(pkgerrors.CodeInternal, "payout success exceeds in-flight balance")
		}
		*inFlight -= pl.AmountCents
		*paid += pl.AmountCents
		settle(p, at)
	case enums.LedgerEntryPayoutFailure:
		if pl.AmountCents > *inFlight {
			return pkgerrors.New(pkgerrors.CodeInternal, "payout failure exceeds in-flight balance")
		}
		*inFlight -= pl.AmountCents
	}
	return nil
}

// settle moves a released payment to paid_out once nothing remains owed to
// the worker or agency.
func settle(p *models.Payment, at time.Time) {
	if p.Status != enums.PaymentStatusReleased {
		return
	}
	owed := p.QueuedCents(enums.RecipientTypeWorker) + p.InFlightWorkerCents +
		p.QueuedCents(enums.RecipientTypeAgency) + p.InFlightAgencyCents
	if owed > 0 {
		return
	}
	p.Status = enums.PaymentStatusPaidOut
	p.PaidOutAt = timePtr(at)
}

func refundable(p *models.Payment) money.Portions {
	return money.Portions{
		WorkerCents:   p.QueuedCents(enums.RecipientTypeWorker),
		PlatformCents: p.PlatformRetainedCents(),
		AgencyCents:   p.QueuedCents(enums.RecipientTypeAgency),
	}
}

func addRefund(p *models.Payment, alloc money.Portions) {
	p.RefundedWorkerCents += alloc.WorkerCents
	p.RefundedPlatformCents += alloc.PlatformCents
	p.RefundedAgencyCents += alloc.AgencyCents
}

func invalidTransition(p *models.Payment, e *models.LedgerEntry, msg string) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, msg).
		WithDetails(map[string]any{
			"payment_id": p.ID,
			"status":     p.Status,
			"entry_type": e.Type,
		})
}

func timePtr(t time.Time) *time.Time {
	return &t
}
