package outbox

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	"github.com/angelmondragon/shiftpay-backend/pkg/types"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	Kind enums.ActorKind `json:"kind"`
	ID   string          `json:"id"`
}

// ActorFrom copies the command actor into the envelope form.
func ActorFrom(actor types.Actor) *ActorRef {
	if actor.Kind == "" && actor.ID == "" {
		return nil
	}
	return &ActorRef{Kind: actor.Kind, ID: actor.ID}
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
