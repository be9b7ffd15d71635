package enums

import "fmt"

// RefundStatus tracks a compensating refund transaction. Completed and
// failed are final.
type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
)

func (r RefundStatus) String() string { return string(r) }

func (r RefundStatus) IsValid() bool {
	switch r {
	case RefundStatusPending, RefundStatusProcessing, RefundStatusCompleted, RefundStatusFailed:
		return true
	}
	return false
}

func ParseRefundStatus(value string) (RefundStatus, error) {
	if s := RefundStatus(value); s.IsValid() {
		return s, nil
	}
	return "", fmt.Errorf("invalid refund status %q", value)
}
