package enums

import "fmt"

// DisputeOutcome decides where the disputed funds go.
type DisputeOutcome string

const (
	DisputeOutcomeUpheld   DisputeOutcome = "upheld"
	DisputeOutcomeRejected DisputeOutcome = "rejected"
)

var validDisputeOutcomes = []DisputeOutcome{
	DisputeOutcomeUpheld,
	DisputeOutcomeRejected,
}

// String implements fmt.Stringer.
func (d DisputeOutcome) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DisputeOutcome.
func (d DisputeOutcome) IsValid() bool {
	for _, candidate := range validDisputeOutcomes {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDisputeOutcome converts raw input into a DisputeOutcome.
func ParseDisputeOutcome(value string) (DisputeOutcome, error) {
	for _, candidate := range validDisputeOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute outcome %q", value)
}
