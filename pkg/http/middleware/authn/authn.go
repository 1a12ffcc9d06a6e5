package authn

import (
	"log/slog"
	"net/http"

	"github.com/mikeyoung304/expo-sync/internal/auth"
	"github.com/mikeyoung304/expo-sync/internal/transport/http/respond"
)

// NewAuthMiddleware validates request credentials and stores the resulting
// identity on the context. Handlers behind it read the tenant from that
// identity only; a restaurant id in a body or query string never grants
// access to anything.
func NewAuthMiddleware(validator auth.Validator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := auth.Authenticate(r.Context(), validator, r)
			if err != nil {
				respond.Unauthorized(w, "authentication required")
				slog.Info("Rejected unauthenticated request",
					"path", r.URL.Path,
					"error", err,
				)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
		})
	}
}
