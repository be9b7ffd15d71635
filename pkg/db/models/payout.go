package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
)

// Payout is a disbursement request to one recipient. It aggregates the
// released portions listed in its PayoutItems.
type Payout struct {
	ID                  uuid.UUID                `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	RecipientType       enums.RecipientType      `gorm:"column:recipient_type;not null;index:ix_payouts_recipient,priority:1" json:"recipient_type"`
	RecipientID         uuid.UUID                `gorm:"column:recipient_id;type:uuid;not null;index:ix_payouts_recipient,priority:2" json:"recipient_id"`
	Currency            enums.Currency           `gorm:"column:currency;not null" json:"currency"`
	AmountCents         int64                    `gorm:"column:amount_cents;not null;default:0" json:"amount_cents"`
	Method              *enums.PayoutMethodType  `gorm:"column:method" json:"method,omitempty"`
	Status              enums.PayoutStatus       `gorm:"column:status;not null;index" json:"status"`
	AttemptCount        int                      `gorm:"column:attempt_count;not null;default:0" json:"attempt_count"`
	MaxAttempts         int                      `gorm:"column:max_attempts;not null" json:"max_attempts"`
	LastFailureKind     *enums.PayoutFailureKind `gorm:"column:last_failure_kind" json:"last_failure_kind,omitempty"`
	LastError           *string                  `gorm:"column:last_error" json:"last_error,omitempty"`
	RailReference       *string                  `gorm:"column:rail_reference" json:"rail_reference,omitempty"`
	NextRetryAt         *time.Time               `gorm:"column:next_retry_at;index" json:"next_retry_at,omitempty"`
	InitiatedAt         *time.Time               `gorm:"column:initiated_at" json:"initiated_at,omitempty"`
	ProcessingStartedAt *time.Time               `gorm:"column:processing_started_at" json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time               `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt           time.Time                `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time                `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	Items []PayoutItem `gorm:"foreignKey:PayoutID" json:"items,omitempty"`
}

func (p *Payout) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PayoutItem is one payment portion carried by a payout.
type PayoutItem struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	PayoutID      uuid.UUID           `gorm:"column:payout_id;type:uuid;not null;index" json:"payout_id"`
	PaymentID     uuid.UUID           `gorm:"column:payment_id;type:uuid;not null;uniqueIndex:ux_payout_items_payment_recipient,priority:1" json:"payment_id"`
	RecipientType enums.RecipientType `gorm:"column:recipient_type;not null;uniqueIndex:ux_payout_items_payment_recipient,priority:2" json:"recipient_type"`
	AmountCents   int64               `gorm:"column:amount_cents;not null" json:"amount_cents"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (i *PayoutItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// PayoutAttempt records a single submission to the payout rail.
type PayoutAttempt struct {
	ID            uuid.UUID                `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	PayoutID      uuid.UUID                `gorm:"column:payout_id;type:uuid;not null;uniqueIndex:ux_payout_attempts_number,priority:1" json:"payout_id"`
	AttemptNumber int                      `gorm:"column:attempt_number;not null;uniqueIndex:ux_payout_attempts_number,priority:2" json:"attempt_number"`
	Status        enums.PayoutStatus       `gorm:"column:status;not null" json:"status"`
	AmountCents   int64                    `gorm:"column:amount_cents;not null" json:"amount_cents"`
	FailureKind   *enums.PayoutFailureKind `gorm:"column:failure_kind" json:"failure_kind,omitempty"`
	Error         *string                  `gorm:"column:error" json:"error,omitempty"`
	RailReference *string                  `gorm:"column:rail_reference" json:"rail_reference,omitempty"`
	StartedAt     time.Time                `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt    *time.Time               `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

func (a *PayoutAttempt) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// PayoutMethod mirrors the payout settings the identity subsystem holds for
// a recipient.
type PayoutMethod struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	RecipientType  enums.RecipientType    `gorm:"column:recipient_type;not null;uniqueIndex:ux_payout_methods_recipient,priority:1" json:"recipient_type"`
	RecipientID    uuid.UUID              `gorm:"column:recipient_id;type:uuid;not null;uniqueIndex:ux_payout_methods_recipient,priority:2" json:"recipient_id"`
	Method         enums.PayoutMethodType `gorm:"column:method;not null" json:"method"`
	DestinationRef string                 `gorm:"column:destination_ref;not null" json:"destination_ref"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (m *PayoutMethod) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
