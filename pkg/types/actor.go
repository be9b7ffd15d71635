package types

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
)

// Actor is the explicit authorization context every settlement command
// carries. There is no ambient session.
type Actor struct {
	Kind enums.ActorKind `json:"kind"`
	ID   string          `json:"id"`
}

// SystemActor identifies an internal scheduler or job.
func SystemActor(name string) Actor {
	return Actor{Kind: enums.ActorKindSystem, ID: name}
}

// AdminActor identifies a platform administrator.
func AdminActor(id string) Actor {
	return Actor{Kind: enums.ActorKindAdmin, ID: id}
}

// ServiceActor identifies an upstream subsystem such as shift management.
func ServiceActor(name string) Actor {
	return Actor{Kind: enums.ActorKindService, ID: name}
}

func (a Actor) Validate() error {
	if !a.Kind.IsValid() {
		return fmt.Errorf("invalid actor kind %q", a.Kind)
	}
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("actor id is required")
	}
	return nil
}

// Is reports whether the actor has one of the given kinds.
func (a Actor) Is(kinds ...enums.ActorKind) bool {
	for _, kind := range kinds {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

func (a Actor) String() string {
	return fmt.Sprintf("%s:%s", a.Kind, a.ID)
}
