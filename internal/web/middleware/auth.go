package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/lodgic/authd/internal/errors"
	"github.com/lodgic/authd/internal/federation"
	"github.com/lodgic/authd/internal/web/response"
)

type contextKey string

const principalKey contextKey = "principal"

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (federation.Principal, bool) {
	p, ok := ctx.Value(principalKey).(federation.Principal)
	return p, ok
}

// BearerAuth requires a valid bearer token and stores the resolved
// principal in the request context. Local and federated tokens both
// pass through the dispatcher.
func BearerAuth(dispatcher *federation.Dispatcher, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || tokenString == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="authd"`)
				response.OAuthErrorResponse(w,
					apperrors.InvalidTokenError("missing bearer token", nil), logger)
				return
			}

			principal, err := dispatcher.Authenticate(r.Context(), tokenString)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="authd", error="invalid_token"`)
				response.OAuthErrorResponse(w, err, logger)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
