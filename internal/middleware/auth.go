package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/PortNumber53/social-publisher/internal/auth"
	"github.com/sirupsen/logrus"
)

// TokenVerifier turns a bearer token into verified claims.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type userIDKey struct{}

// WithUserID returns a copy of ctx carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserID returns the authenticated user id, or "" when the request was not authenticated.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// RequireUser rejects requests without a valid bearer token with 401 and a JSON error body.
// OPTIONS requests pass through so CORS preflight keeps working.
func RequireUser(v TokenVerifier, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			token := auth.BearerToken(r.Header.Get("Authorization"))
			if token == "" {
				respondUnauthorized(w, auth.ErrMissingToken.Error())
				return
			}
			claims, err := v.Verify(token)
			if err != nil {
				logger.WithFields(logrus.Fields{"path": r.URL.Path, "error": err.Error()}).Warn("[Auth] rejected bearer token")
				msg := "invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "token expired"
				}
				respondUnauthorized(w, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
		})
	}
}

// OptionalUser authenticates the request when it carries a bearer token and lets it through otherwise.
// A token that is present but fails verification is still rejected.
func OptionalUser(v TokenVerifier, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	required := RequireUser(v, logger)
	return func(next http.Handler) http.Handler {
		strict := required(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth.BearerToken(r.Header.Get("Authorization")) == "" {
				next.ServeHTTP(w, r)
				return
			}
			strict.ServeHTTP(w, r)
		})
	}
}

func respondUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
