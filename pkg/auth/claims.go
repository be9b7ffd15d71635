package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	"github.com/angelmondragon/shiftpay-backend/pkg/types"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	ActorKind enums.ActorKind
	ActorID   string
	JTI       string
}

// AccessTokenClaims represents the typed JWT presented by admins and
// upstream services. The subject is the actor id.
type AccessTokenClaims struct {
	ActorKind enums.ActorKind `json:"actor_kind"`
	jwt.RegisteredClaims
}

// Actor returns the settlement actor the token authenticates.
func (c AccessTokenClaims) Actor() types.Actor {
	return types.Actor{Kind: c.ActorKind, ID: c.Subject}
}
