package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
)

// Payment is the derived current state of one shift settlement. Every column
// is reproduced by folding the payment's ledger entries in sequence order.
type Payment struct {
	ID                uuid.UUID      `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	ShiftAssignmentID uuid.UUID      `gorm:"column:shift_assignment_id;type:uuid;not null;uniqueIndex:ux_payments_shift_assignment" json:"shift_assignment_id"`
	WorkerID          uuid.UUID      `gorm:"column:worker_id;type:uuid;not null;index" json:"worker_id"`
	BusinessID        uuid.UUID      `gorm:"column:business_id;type:uuid;not null;index" json:"business_id"`
	AgencyID          *uuid.UUID     `gorm:"column:agency_id;type:uuid;index" json:"agency_id,omitempty"`
	Currency          enums.Currency `gorm:"column:currency;not null" json:"currency"`

	GrossCents            int64 `gorm:"column:gross_cents;not null" json:"gross_cents"`
	WorkerCents           int64 `gorm:"column:worker_cents;not null" json:"worker_cents"`
	PlatformFeeCents      int64 `gorm:"column:platform_fee_cents;not null" json:"platform_fee_cents"`
	AgencyCommissionCents int64 `gorm:"column:agency_commission_cents;not null;default:0" json:"agency_commission_cents"`

	RefundedWorkerCents   int64 `gorm:"column:refunded_worker_cents;not null;default:0" json:"refunded_worker_cents"`
	RefundedPlatformCents int64 `gorm:"column:refunded_platform_cents;not null;default:0" json:"refunded_platform_cents"`
	RefundedAgencyCents   int64 `gorm:"column:refunded_agency_cents;not null;default:0" json:"refunded_agency_cents"`
	PaidOutWorkerCents    int64 `gorm:"column:paid_out_worker_cents;not null;default:0" json:"paid_out_worker_cents"`
	PaidOutAgencyCents    int64 `gorm:"column:paid_out_agency_cents;not null;default:0" json:"paid_out_agency_cents"`
	InFlightWorkerCents   int64 `gorm:"column:in_flight_worker_cents;not null;default:0" json:"in_flight_worker_cents"`
	InFlightAgencyCents   int64 `gorm:"column:in_flight_agency_cents;not null;default:0" json:"in_flight_agency_cents"`
	ShortfallCents        int64 `gorm:"column:shortfall_cents;not null;default:0" json:"shortfall_cents"`

	Status             enums.PaymentStatus `gorm:"column:status;not null;index:ix_payments_status_release,priority:1" json:"status"`
	EscrowStartedAt    time.Time           `gorm:"column:escrow_started_at;not null;index" json:"escrow_started_at"`
	ScheduledReleaseAt time.Time           `gorm:"column:scheduled_release_at;not null;index:ix_payments_status_release,priority:2" json:"scheduled_release_at"`
	IsFlagged          bool                `gorm:"column:is_flagged;not null;default:false" json:"is_flagged"`
	FlaggedReason      *string             `gorm:"column:flagged_reason" json:"flagged_reason,omitempty"`
	FlaggedAt          *time.Time          `gorm:"column:flagged_at" json:"flagged_at,omitempty"`
	ActiveDisputeID    *uuid.UUID          `gorm:"column:active_dispute_id;type:uuid" json:"active_dispute_id,omitempty"`
	ReleasedAt         *time.Time          `gorm:"column:released_at" json:"released_at,omitempty"`
	PaidOutAt          *time.Time          `gorm:"column:paid_out_at" json:"paid_out_at,omitempty"`
	RefundedAt         *time.Time          `gorm:"column:refunded_at" json:"refunded_at,omitempty"`

	LastSequence int64     `gorm:"column:last_sequence;not null;default:0" json:"last_sequence"`
	LastEntryAt  time.Time `gorm:"column:last_entry_at;not null" json:"last_entry_at"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// HasActiveDispute reports whether a dispute currently blocks settlement.
func (p Payment) HasActiveDispute() bool {
	return p.ActiveDisputeID != nil
}

// QueuedCents is the portion owed to a recipient that is neither refunded,
// paid out, nor currently being transferred.
func (p Payment) QueuedCents(recipient enums.RecipientType) int64 {
	switch recipient {
	case enums.RecipientTypeWorker:
		return p.WorkerCents - p.RefundedWorkerCents - p.PaidOutWorkerCents - p.InFlightWorkerCents
	case enums.RecipientTypeAgency:
		return p.AgencyCommissionCents - p.RefundedAgencyCents - p.PaidOutAgencyCents - p.InFlightAgencyCents
	}
	return 0
}

// InFlightCents is the portion currently submitted to the payout rail.
func (p Payment) InFlightCents(recipient enums.RecipientType) int64 {
	switch recipient {
	case enums.RecipientTypeWorker:
		return p.InFlightWorkerCents
	case enums.RecipientTypeAgency:
		return p.InFlightAgencyCents
	}
	return 0
}

// PlatformRetainedCents is the platform fee not yet returned by refunds.
func (p Payment) PlatformRetainedCents() int64 {
	return p.PlatformFeeCents - p.RefundedPlatformCents
}

// RefundableCents is the held or released balance that has not been
// disbursed and is not in flight.
func (p Payment) RefundableCents() int64 {
	return p.QueuedCents(enums.RecipientTypeWorker) +
		p.QueuedCents(enums.RecipientTypeAgency) +
		p.PlatformRetainedCents()
}

// RefundedCents is the total returned to the business so far.
func (p Payment) RefundedCents() int64 {
	return p.RefundedWorkerCents + p.RefundedPlatformCents + p.RefundedAgencyCents
}

// PaidOutCents is the total disbursed to worker and agency.
func (p Payment) PaidOutCents() int64 {
	return p.PaidOutWorkerCents + p.PaidOutAgencyCents
}
