package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
)

// Refund is a compensating transaction against a payment. The per-party
// columns record how the refunded amount was drawn from the split.
type Refund struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	PaymentID      uuid.UUID           `gorm:"column:payment_id;type:uuid;not null;index" json:"payment_id"`
	AmountCents    int64               `gorm:"column:amount_cents;not null" json:"amount_cents"`
	WorkerCents    int64               `gorm:"column:worker_cents;not null;default:0" json:"worker_cents"`
	PlatformCents  int64               `gorm:"column:platform_cents;not null;default:0" json:"platform_cents"`
	AgencyCents    int64               `gorm:"column:agency_cents;not null;default:0" json:"agency_cents"`
	ShortfallCents int64               `gorm:"column:shortfall_cents;not null;default:0" json:"shortfall_cents"`
	Type           enums.RefundType    `gorm:"column:type;not null" json:"type"`
	Trigger        enums.RefundTrigger `gorm:"column:trigger;not null" json:"trigger"`
	Status         enums.RefundStatus  `gorm:"column:status;not null;index" json:"status"`
	Reason         string              `gorm:"column:reason;not null" json:"reason"`
	EventRef       *string             `gorm:"column:event_ref" json:"event_ref,omitempty"`
	IdempotencyKey *string             `gorm:"column:idempotency_key;uniqueIndex:ux_refunds_idempotency_key" json:"-"`
	FailureCode    *string             `gorm:"column:failure_code" json:"failure_code,omitempty"`
	FailureReason  *string             `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	RequestedBy    string              `gorm:"column:requested_by;not null" json:"requested_by"`
	CreatedAt      time.Time           `gorm:"column:created_at;not null;index" json:"created_at"`
	CompletedAt    *time.Time          `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (r *Refund) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
