package enums

import "fmt"

// SLAStatus is derived at read time from a dispute deadline.
type SLAStatus string

const (
	SLAStatusOnTrack  SLAStatus = "on_track"
	SLAStatusAtRisk   SLAStatus = "at_risk"
	SLAStatusBreached SLAStatus = "breached"
	SLAStatusMet      SLAStatus = "met"
)

var validSLAStatuses = []SLAStatus{
	SLAStatusOnTrack,
	SLAStatusAtRisk,
	SLAStatusBreached,
	SLAStatusMet,
}

// String implements fmt.Stringer.
func (s SLAStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SLAStatus.
func (s SLAStatus) IsValid() bool {
	for _, candidate := range validSLAStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSLAStatus converts raw input into a SLAStatus.
func ParseSLAStatus(value string) (SLAStatus, error) {
	for _, candidate := range validSLAStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sla status %q", value)
}
