package enums

import "fmt"

// PayoutFailureKind classifies why a payout attempt did not complete.
type PayoutFailureKind string

const (
	PayoutFailureRecipientUnconfigured PayoutFailureKind = "recipient_unconfigured"
	PayoutFailureRailRejected          PayoutFailureKind = "rail_rejected"
	PayoutFailureTransient             PayoutFailureKind = "transient"
)

var validPayoutFailureKinds = []PayoutFailureKind{
	PayoutFailureRecipientUnconfigured,
	PayoutFailureRailRejected,
	PayoutFailureTransient,
}

// String implements fmt.Stringer.
func (p PayoutFailureKind) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PayoutFailureKind.
func (p PayoutFailureKind) IsValid() bool {
	for _, candidate := range validPayoutFailureKinds {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePayoutFailureKind converts raw input into a PayoutFailureKind.
func ParsePayoutFailureKind(value string) (PayoutFailureKind, error) {
	for _, candidate := range validPayoutFailureKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout failure kind %q", value)
}

// Retryable reports whether the scheduler may retry automatically.
func (k PayoutFailureKind) Retryable() bool {
	return k == PayoutFailureTransient
}
