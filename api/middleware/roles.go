package middleware

import (
	"net/http"

	"github.com/angelmondragon/shiftpay-backend/api/responses"
	"github.com/angelmondragon/shiftpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
)

// RequireActorKind rejects requests whose actor is not one of kinds.
// Command-level rules still apply inside the settlement service.
func RequireActorKind(logg *logger.Logger, kinds ...enums.ActorKind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if !actor.Is(kinds...) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "actor kind not allowed").
					WithDetails(map[string]any{"actor_kind": actor.Kind}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
