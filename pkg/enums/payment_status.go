package enums

import "fmt"

// PaymentStatus tracks where an escrowed shift payment sits in settlement.
type PaymentStatus string

const (
	PaymentStatusInEscrow PaymentStatus = "in_escrow"
	PaymentStatusReleased PaymentStatus = "released"
	PaymentStatusPaidOut  PaymentStatus = "paid_out"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusDisputed PaymentStatus = "disputed"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusInEscrow,
	PaymentStatusReleased,
	PaymentStatusPaidOut,
	PaymentStatusRefunded,
	PaymentStatusDisputed,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}

// IsTerminal reports whether no further balance movement is expected.
func (p PaymentStatus) IsTerminal() bool {
	return p == PaymentStatusPaidOut || p == PaymentStatusRefunded
}
