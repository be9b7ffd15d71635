package enums

import "fmt"

// LedgerEntryType enumerates the balance-affecting actions recorded per payment.
type LedgerEntryType string

const (
	LedgerEntryOpen           LedgerEntryType = "open"
	LedgerEntryHold           LedgerEntryType = "hold"
	LedgerEntryUnhold         LedgerEntryType = "unhold"
	LedgerEntryRelease        LedgerEntryType = "release"
	LedgerEntryDisputeOpen    LedgerEntryType = "dispute_open"
	LedgerEntryDisputeResolve LedgerEntryType = "dispute_resolve"
	LedgerEntryPartialRefund  LedgerEntryType = "partial_refund"
	LedgerEntryFullRefund     LedgerEntryType = "full_refund"
	LedgerEntryPayoutAttempt  LedgerEntryType = "payout_attempt"
	LedgerEntryPayoutSuccess  LedgerEntryType = "payout_success"
	LedgerEntryPayoutFailure  LedgerEntryType = "payout_failure"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryOpen,
	LedgerEntryHold,
	LedgerEntryUnhold,
	LedgerEntryRelease,
	LedgerEntryDisputeOpen,
	LedgerEntryDisputeResolve,
	LedgerEntryPartialRefund,
	LedgerEntryFullRefund,
	LedgerEntryPayoutAttempt,
	LedgerEntryPayoutSuccess,
	LedgerEntryPayoutFailure,
}

// String implements fmt.Stringer.
func (l LedgerEntryType) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LedgerEntryType.
func (l LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into a LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
