package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/shiftpay-backend/api/responses"
	pkgAuth "github.com/angelmondragon/shiftpay-backend/pkg/auth"
	"github.com/angelmondragon/shiftpay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/shiftpay-backend/pkg/errors"
	"github.com/angelmondragon/shiftpay-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the actor
// it authenticates.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			actor := claims.Actor()
			ctx := WithActor(r.Context(), actor)
			if logg != nil {
				ctx = logg.WithActor(ctx, string(actor.Kind), actor.ID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
