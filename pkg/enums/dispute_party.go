package enums

import "fmt"

// DisputeParty identifies who raised a dispute.
type DisputeParty string

const (
	DisputePartyWorker   DisputeParty = "worker"
	DisputePartyBusiness DisputeParty = "business"
	DisputePartyAgency   DisputeParty = "agency"
)

var validDisputeParties = []DisputeParty{
	DisputePartyWorker,
	DisputePartyBusiness,
	DisputePartyAgency,
}

// String implements fmt.Stringer.
func (d DisputeParty) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DisputeParty.
func (d DisputeParty) IsValid() bool {
	for _, candidate := range validDisputeParties {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDisputeParty converts raw input into a DisputeParty.
func ParseDisputeParty(value string) (DisputeParty, error) {
	for _, candidate := range validDisputeParties {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dispute party %q", value)
}
