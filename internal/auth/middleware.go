package auth

import (
	"context"
	"net/http"
	"strings"

	"strategyexecutor/internal/model"
)

// UserStore resolves the authenticated user row behind a verified
// token subject.
type UserStore interface {
	Get(ctx context.Context, id model.ID) (*model.User, error)
}

// Middleware authenticates every request by bearer access token,
// publishing the resolved user onto the request context for handlers
// to read via GetUserFromContext. Unauthenticated or unresolvable
// requests are rejected with 401 before reaching the handler; public
// endpoints (register/login/webhooks/healthcheck) are mounted outside
// this middleware's chi.Route group.
func Middleware(issuer *Issuer, users UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			token := strings.TrimPrefix(header, prefix)

			userID, err := issuer.Verify(token, KindAccess)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := users.Get(r.Context(), userID)
			if err != nil || user == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := WithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
