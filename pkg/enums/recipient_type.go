package enums

import "fmt"

// RecipientType identifies who receives a payout portion.
type RecipientType string

const (
	RecipientTypeWorker RecipientType = "worker"
	RecipientTypeAgency RecipientType = "agency"
)

var validRecipientTypes = []RecipientType{
	RecipientTypeWorker,
	RecipientTypeAgency,
}

// String implements fmt.Stringer.
func (r RecipientType) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RecipientType.
func (r RecipientType) IsValid() bool {
	for _, candidate := range validRecipientTypes {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRecipientType converts raw input into a RecipientType.
func ParseRecipientType(value string) (RecipientType, error) {
	for _, candidate := range validRecipientTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid recipient type %q", value)
}
