package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/staffdesk/staffdesk/internal/httputil"
	"github.com/staffdesk/staffdesk/internal/user"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

const userContextKey ContextKey = "current_user"

// Middleware handles authentication for protected routes
type Middleware struct {
	tokenService TokenService
	validator    *Validator
}

func NewMiddleware(tokenService TokenService, validator *Validator) *Middleware {
	return &Middleware{tokenService: tokenService, validator: validator}
}

// RequireAuth verifies the bearer token and its recency against the account's
// last password change, then stores the resolved account in the request
// context. Identity always travels through the context, never through
// package-level state.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.RespondErrorWithCode(w, "invalid authorization header format", httputil.CodeInvalidAuthHeader, http.StatusUnauthorized)
			return
		}

		claims, err := m.tokenService.VerifyToken(parts[1])
		if err != nil {
			if errors.Is(err, ErrExpiredToken) {
				httputil.RespondErrorWithCode(w, "token has expired", httputil.CodeTokenExpired, http.StatusUnauthorized)
				return
			}
			httputil.RespondErrorWithCode(w, "invalid token", httputil.CodeInvalidToken, http.StatusUnauthorized)
			return
		}

		u, err := m.validator.Validate(r.Context(), claims)
		if err != nil {
			if errors.Is(err, ErrStaleToken) {
				httputil.RespondErrorWithCode(w, ErrStaleToken.Error(), httputil.CodeStaleToken, http.StatusUnauthorized)
				return
			}
			if errors.Is(err, ErrUnauthenticated) {
				httputil.RespondErrorWithCode(w, "invalid token", httputil.CodeInvalidToken, http.StatusUnauthorized)
				return
			}
			httputil.RespondErrorWithCode(w, "failed to authenticate", httputil.CodeInternalError, http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserFromContext extracts the authenticated account from the request context.
func GetUserFromContext(ctx context.Context) (*user.User, bool) {
	u, ok := ctx.Value(userContextKey).(*user.User)
	return u, ok
}
