package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
)

// Dispute is a challenge raised against an escrowed payment. Resolved
// disputes are retained for audit.
type Dispute struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	PaymentID      uuid.UUID             `gorm:"column:payment_id;type:uuid;not null;index" json:"payment_id"`
	WorkerID       uuid.UUID             `gorm:"column:worker_id;type:uuid;not null" json:"worker_id"`
	BusinessID     uuid.UUID             `gorm:"column:business_id;type:uuid;not null" json:"business_id"`
	RaisedBy       enums.DisputeParty    `gorm:"column:raised_by;not null" json:"raised_by"`
	Reason         string                `gorm:"column:reason;not null" json:"reason"`
	Status         enums.DisputeStatus   `gorm:"column:status;not null;index" json:"status"`
	Outcome        *enums.DisputeOutcome `gorm:"column:outcome" json:"outcome,omitempty"`
	ResolutionNote *string               `gorm:"column:resolution_note" json:"resolution_note,omitempty"`
	ResolvedBy     *string               `gorm:"column:resolved_by" json:"resolved_by,omitempty"`
	OpenedAt       time.Time             `gorm:"column:opened_at;not null" json:"opened_at"`
	SLADeadline    time.Time             `gorm:"column:sla_deadline;not null;index" json:"sla_deadline"`
	SLABreachedAt  *time.Time            `gorm:"column:sla_breached_at" json:"sla_breached_at,omitempty"`
	EscalatedAt    *time.Time            `gorm:"column:escalated_at" json:"escalated_at,omitempty"`
	ResolvedAt     *time.Time            `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time             `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (d *Dispute) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
