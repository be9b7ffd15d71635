package enums

import "fmt"

// ActorKind identifies the caller on whose behalf a command runs.
type ActorKind string

const (
	ActorKindSystem  ActorKind = "system"
	ActorKindAdmin   ActorKind = "admin"
	ActorKindService ActorKind = "service"
)

var validActorKinds = []ActorKind{
	ActorKindSystem,
	ActorKindAdmin,
	ActorKindService,
}

// String implements fmt.Stringer.
func (a ActorKind) String() string {
	return string(a)
}

// IsValid reports whether the value is a known ActorKind.
func (a ActorKind) IsValid() bool {
	for _, candidate := range validActorKinds {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseActorKind converts raw input into a ActorKind.
func ParseActorKind(value string) (ActorKind, error) {
	for _, candidate := range validActorKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor kind %q", value)
}
