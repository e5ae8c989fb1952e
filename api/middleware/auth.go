package middleware

import (
	"net/http"
	"strings"

	"github.com/littleweaver/brambling/api/responses"
	pkgAuth "github.com/littleweaver/brambling/pkg/auth"
	"github.com/littleweaver/brambling/pkg/config"
	pkgerrors "github.com/littleweaver/brambling/pkg/errors"
	"github.com/littleweaver/brambling/pkg/logger"
)

// Auth seeds the request context from a bearer token when one is present.
// Requests without credentials pass through anonymous; buyers can hold a
// cart with nothing but their order code. A token that is present but
// invalid is still rejected.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				next.ServeHTTP(w, r)
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

			ctx := WithPersonID(r.Context(), claims.PersonID, claims.IsOrganizer)

			if logg != nil {
				fields := map[string]any{
					"person_id": claims.PersonID.String(),
				}
				if claims.IsOrganizer {
					fields["is_organizer"] = true
				}
				ctx = logg.WithFields(ctx, fields)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOrganizer gates organizer-only routes. It must run after Auth.
func RequireOrganizer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if PersonIDFromContext(r.Context()) == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if !IsOrganizerFromContext(r.Context()) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "organizer access required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
