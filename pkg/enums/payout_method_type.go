package enums

import "fmt"

// PayoutMethodType is the rail a recipient is paid through.
type PayoutMethodType string

const (
	PayoutMethodBankTransfer PayoutMethodType = "bank_transfer"
	PayoutMethodDebitCard    PayoutMethodType = "debit_card"
	PayoutMethodWallet       PayoutMethodType = "wallet"
)

var validPayoutMethodTypes = []PayoutMethodType{
	PayoutMethodBankTransfer,
	PayoutMethodDebitCard,
	PayoutMethodWallet,
}

// String implements fmt.Stringer.
func (p PayoutMethodType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PayoutMethodType.
func (p PayoutMethodType) IsValid() bool {
	for _, candidate := range validPayoutMethodTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePayoutMethodType converts raw input into a PayoutMethodType.
func ParsePayoutMethodType(value string) (PayoutMethodType, error) {
	for _, candidate := range validPayoutMethodTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout method type %q", value)
}
