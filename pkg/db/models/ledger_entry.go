package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
)

// LedgerEntry is one append-only, balance-affecting action on a payment.
// AmountCents is the signed change to the balance the platform holds for
// the payment.
type LedgerEntry struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	PaymentID      uuid.UUID             `gorm:"column:payment_id;type:uuid;not null;uniqueIndex:ux_ledger_entries_payment_sequence,priority:1" json:"payment_id"`
	Sequence       int64                 `gorm:"column:sequence;not null;uniqueIndex:ux_ledger_entries_payment_sequence,priority:2" json:"sequence"`
	Type           enums.LedgerEntryType `gorm:"column:type;not null" json:"type"`
	AmountCents    int64                 `gorm:"column:amount_cents;not null;default:0" json:"amount_cents"`
	ActorKind      enums.ActorKind       `gorm:"column:actor_kind;not null" json:"actor_kind"`
	ActorID        string                `gorm:"column:actor_id;not null" json:"actor_id"`
	IdempotencyKey string                `gorm:"column:idempotency_key;not null;uniqueIndex:ux_ledger_entries_idempotency_key" json:"idempotency_key"`
	Payload        json.RawMessage       `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`
	OccurredAt     time.Time             `gorm:"column:occurred_at;not null" json:"occurred_at"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
