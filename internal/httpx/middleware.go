package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-marketplace/internal/apperr"
	"github.com/ariefcatur/go-marketplace/internal/auth"
	"go.uber.org/zap"
)

// Authenticator is implemented by auth.Service.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.User, error)
}

type userKey struct{}

// RequireAuth resolves the bearer token to an active user or answers 401/403.
func RequireAuth(a Authenticator, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
				writeError(w, r, log, apperr.Unauthorized("not authenticated"))
				return
			}

			u, err := a.Authenticate(r.Context(), strings.TrimSpace(token))
			if err != nil {
				writeError(w, r, log, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))
		})
	}
}

func currentUser(ctx context.Context) auth.User {
	u, _ := ctx.Value(userKey{}).(auth.User)
	return u
}

func principal(r *http.Request) auth.Principal {
	return currentUser(r.Context()).Principal()
}
