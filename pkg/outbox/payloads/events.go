package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
)

// EscrowOpenedEvent announces funds captured into escrow for a shift.
type EscrowOpenedEvent struct {
	PaymentID             uuid.UUID      `json:"payment_id"`
	ShiftAssignmentID     uuid.UUID      `json:"shift_assignment_id"`
	WorkerID              uuid.UUID      `json:"worker_id"`
	BusinessID            uuid.UUID      `json:"business_id"`
	AgencyID              *uuid.UUID     `json:"agency_id,omitempty"`
	Currency              enums.Currency `json:"currency"`
	GrossCents            int64          `json:"gross_cents"`
	WorkerCents           int64          `json:"worker_cents"`
	PlatformFeeCents      int64          `json:"platform_fee_cents"`
	AgencyCommissionCents int64          `json:"agency_commission_cents"`
	ScheduledReleaseAt    time.Time      `json:"scheduled_release_at"`
}

// PaymentStatusEvent covers hold and unhold transitions.
type PaymentStatusEvent struct {
	PaymentID          uuid.UUID           `json:"payment_id"`
	Status             enums.PaymentStatus `json:"status"`
	Reason             string              `json:"reason,omitempty"`
	ScheduledReleaseAt time.Time           `json:"scheduled_release_at"`
}

// PaymentReleasedEvent is emitted when escrowed funds become payable.
type PaymentReleasedEvent struct {
	PaymentID   uuid.UUID  `json:"payment_id"`
	WorkerID    uuid.UUID  `json:"worker_id"`
	AgencyID    *uuid.UUID `json:"agency_id,omitempty"`
	WorkerCents int64      `json:"worker_cents"`
	AgencyCents int64      `json:"agency_cents"`
	Override    bool       `json:"override"`
	DisputeID   *uuid.UUID `json:"dispute_id,omitempty"`
	ReleasedAt  time.Time  `json:"released_at"`
}

// PaymentRefundedEvent reports a completed refund. It is also used for the
// shortfall alert when part of the refund was already disbursed.
type PaymentRefundedEvent struct {
	PaymentID      uuid.UUID           `json:"payment_id"`
	RefundID       uuid.UUID           `json:"refund_id"`
	BusinessID     uuid.UUID           `json:"business_id"`
	Type           enums.RefundType    `json:"type"`
	Trigger        enums.RefundTrigger `json:"trigger"`
	Reason         string              `json:"reason"`
	AmountCents    int64               `json:"amount_cents"`
	WorkerCents    int64               `json:"worker_cents"`
	PlatformCents  int64               `json:"platform_cents"`
	AgencyCents    int64               `json:"agency_cents"`
	ShortfallCents int64               `json:"shortfall_cents"`
	PaymentStatus  enums.PaymentStatus `json:"payment_status"`
}

// DisputeEvent carries the dispute snapshot for every dispute transition.
type DisputeEvent struct {
	DisputeID     uuid.UUID             `json:"dispute_id"`
	PaymentID     uuid.UUID             `json:"payment_id"`
	Status        enums.DisputeStatus   `json:"status"`
	RaisedBy      enums.DisputeParty    `json:"raised_by"`
	Reason        string                `json:"reason"`
	Outcome       *enums.DisputeOutcome `json:"outcome,omitempty"`
	SLADeadline   time.Time             `json:"sla_deadline"`
	SLABreachedAt *time.Time            `json:"sla_breached_at,omitempty"`
	ResolvedAt    *time.Time            `json:"resolved_at,omitempty"`
}

// PayoutEvent reports the result of a payout attempt.
type PayoutEvent struct {
	PayoutID      uuid.UUID                `json:"payout_id"`
	RecipientType enums.RecipientType      `json:"recipient_type"`
	RecipientID   uuid.UUID                `json:"recipient_id"`
	Currency      enums.Currency           `json:"currency"`
	AmountCents   int64                    `json:"amount_cents"`
	Status        enums.PayoutStatus       `json:"status"`
	AttemptCount  int                      `json:"attempt_count"`
	MaxAttempts   int                      `json:"max_attempts"`
	FailureKind   *enums.PayoutFailureKind `json:"failure_kind,omitempty"`
	Error         *string                  `json:"error,omitempty"`
	RailReference *string                  `json:"rail_reference,omitempty"`
	NextRetryAt   *time.Time               `json:"next_retry_at,omitempty"`
}

func NewEscrowOpened(p models.Payment) EscrowOpenedEvent {
	return EscrowOpenedEvent{
		PaymentID:             p.ID,
		ShiftAssignmentID:     p.ShiftAssignmentID,
		WorkerID:              p.WorkerID,
		BusinessID:            p.BusinessID,
		AgencyID:              p.AgencyID,
		Currency:              p.Currency,
		GrossCents:            p.GrossCents,
		WorkerCents:           p.WorkerCents,
		PlatformFeeCents:      p.PlatformFeeCents,
		AgencyCommissionCents: p.AgencyCommissionCents,
		ScheduledReleaseAt:    p.ScheduledReleaseAt,
	}
}

func NewPaymentStatus(p models.Payment, reason string) PaymentStatusEvent {
	return PaymentStatusEvent{
		PaymentID:          p.ID,
		Status:             p.Status,
		Reason:             reason,
		ScheduledReleaseAt: p.ScheduledReleaseAt,
	}
}

func NewPaymentReleased(p models.Payment, override bool, disputeID *uuid.UUID) PaymentReleasedEvent {
	evt := PaymentReleasedEvent{
		PaymentID:   p.ID,
		WorkerID:    p.WorkerID,
		AgencyID:    p.AgencyID,
		WorkerCents: p.QueuedCents(enums.RecipientTypeWorker),
		AgencyCents: p.QueuedCents(enums.RecipientTypeAgency),
		Override:    override,
		DisputeID:   disputeID,
	}
	if p.ReleasedAt != nil {
		evt.ReleasedAt = *p.ReleasedAt
	}
	return evt
}

func NewPaymentRefunded(p models.Payment, r models.Refund) PaymentRefundedEvent {
	return PaymentRefundedEvent{
		PaymentID:      p.ID,
		RefundID:       r.ID,
		BusinessID:     p.BusinessID,
		Type:           r.Type,
		Trigger:        r.Trigger,
		Reason:         r.Reason,
		AmountCents:    r.AmountCents,
		WorkerCents:    r.WorkerCents,
		PlatformCents:  r.PlatformCents,
		AgencyCents:    r.AgencyCents,
		ShortfallCents: r.ShortfallCents,
		PaymentStatus:  p.Status,
	}
}

func NewDispute(d models.Dispute) DisputeEvent {
	return DisputeEvent{
		DisputeID:     d.ID,
		PaymentID:     d.PaymentID,
		Status:        d.Status,
		RaisedBy:      d.RaisedBy,
		Reason:        d.Reason,
		Outcome:       d.Outcome,
		SLADeadline:   d.SLADeadline,
		SLABreachedAt: d.SLABreachedAt,
		ResolvedAt:    d.ResolvedAt,
	}
}

func NewPayout(p models.Payout) PayoutEvent {
	return PayoutEvent{
		PayoutID:      p.ID,
		RecipientType: p.RecipientType,
		RecipientID:   p.RecipientID,
		Currency:      p.Currency,
		AmountCents:   p.AmountCents,
		Status:        p.Status,
		AttemptCount:  p.AttemptCount,
		MaxAttempts:   p.MaxAttempts,
		FailureKind:   p.LastFailureKind,
		Error:         p.LastError,
		RailReference: p.RailReference,
		NextRetryAt:   p.NextRetryAt,
	}
}
