package enums

import "fmt"

// RefundTrigger records who initiated a refund.
type RefundTrigger string

const (
	RefundTriggerAuto   RefundTrigger = "auto"
	RefundTriggerManual RefundTrigger = "manual"
)

var validRefundTriggers = []RefundTrigger{
	RefundTriggerAuto,
	RefundTriggerManual,
}

// String implements fmt.Stringer.
func (r RefundTrigger) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundTrigger.
func (r RefundTrigger) IsValid() bool {
	for _, candidate := range validRefundTriggers {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRefundTrigger converts raw input into a RefundTrigger.
func ParseRefundTrigger(value string) (RefundTrigger, error) {
	for _, candidate := range validRefundTriggers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund trigger %q", value)
}
