package enums

import "fmt"

// DisputeStatus is the lifecycle state of a payment dispute.
type DisputeStatus string

const (
	DisputeStatusOpen             DisputeStatus = "open"
	DisputeStatusUnderReview      DisputeStatus = "under_review"
	DisputeStatusAwaitingResponse DisputeStatus = "awaiting_response"
	DisputeStatusResolved         DisputeStatus = "resolved"
	DisputeStatusEscalated        DisputeStatus = "escalated"
)

var validDisputeStatuses = []DisputeStatus{
	DisputeStatusOpen,
	DisputeStatusUnderReview,
	DisputeStatusAwaitingResponse,
	DisputeStatusResolved,
	DisputeStatusEscalated,
}

// String implements fmt.Stringer.
func (d DisputeStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DisputeStatus.
func (d DisputeStatus) IsValid() bool {
	for _, candidate := range validDisputeStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDisputeStatus converts raw input into a DisputeStatus.
func ParseDisputeStatus(value string) (DisputeStatus, error) {
	for _, candidate := range validDisputeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute status %q", value)
}

// IsActive reports whether the dispute still blocks settlement.
func (d DisputeStatus) IsActive() bool {
	return d.IsValid() && d != DisputeStatusResolved
}
