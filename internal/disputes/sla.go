package disputes

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shiftpay-backend/pkg/db/models"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
)

// SLAView is the derived SLA state of a dispute at a point in time.
type SLAView struct {
	DisputeID        uuid.UUID           `json:"dispute_id"`
	DisputeStatus    enums.DisputeStatus `json:"dispute_status"`
	Status           enums.SLAStatus     `json:"sla_status"`
	Deadline         time.Time           `json:"sla_deadline"`
	RemainingSeconds int64               `json:"remaining_seconds"`
	BreachedAt       *time.Time          `json:"breached_at,omitempty"`
	EvaluatedAt      time.Time           `json:"evaluated_at"`
}

// SLAStatus derives the SLA state. A persisted breach is sticky, and a
// dispute resolved after its deadline stays breached.
func SLAStatus(d models.Dispute, now time.Time, warningMargin time.Duration) enums.SLAStatus {
	if d.Status == enums.DisputeStatusResolved {
		if d.SLABreachedAt != nil {
			return enums.SLAStatusBreached
		}
		if d.ResolvedAt != nil && d.ResolvedAt.Before(d.SLADeadline) {
			return enums.SLAStatusMet
		}
		return enums.SLAStatusBreached
	}
	if d.SLABreachedAt != nil || !now.Before(d.SLADeadline) {
		return enums.SLAStatusBreached
	}
	if !now.Before(d.SLADeadline.Add(-warningMargin)) {
		return enums.SLAStatusAtRisk
	}
	return enums.SLAStatusOnTrack
}

// BuildSLAView evaluates the SLA of d at now.
func BuildSLAView(d models.Dispute, now time.Time, warningMargin time.Duration) SLAView {
	view := SLAView{
		DisputeID:     d.ID,
		DisputeStatus: d.Status,
		Status:        SLAStatus(d, now, warningMargin),
		Deadline:      d.SLADeadline,
		BreachedAt:    d.SLABreachedAt,
		EvaluatedAt:   now,
	}
	if d.Status != enums.DisputeStatusResolved {
		if remaining := d.SLADeadline.Sub(now); remaining > 0 {
			view.RemainingSeconds = int64(remaining / time.Second)
		}
	}
	return view
}
