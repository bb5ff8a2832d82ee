package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	authproviders "github.com/cbodonnell/gserver/pkg/auth/providers"
	"github.com/cbodonnell/gserver/pkg/log"
	"github.com/cbodonnell/gserver/pkg/repositories/models"
)

type ContextKey int

const (
	// IdentityContextKey is the key used to store the identity in the request context
	IdentityContextKey ContextKey = iota
)

// IdentityFromContext returns the identity stored by the auth middleware
func IdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey).(*models.Identity)
	return identity, ok && identity != nil
}

func withIdentity(ctx context.Context, identity *models.Identity) context.Context {
	return context.WithValue(ctx, IdentityContextKey, identity)
}

// Authenticate verifies the request's token. It returns nil, nil if the request carries no token.
func Authenticate(r *http.Request, authProvider authproviders.AuthProvider) (*models.Identity, error) {
	bearerToken, err := parseBearerToken(r)
	if err != nil {
		return nil, err
	}
	if bearerToken == "" {
		return nil, nil
	}

	token, err := authProvider.VerifyToken(r.Context(), bearerToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %v", err)
	}
	return token.Identity(), nil
}

// NewAuthMiddleware rejects requests without a valid ID token
func NewAuthMiddleware(authProvider authproviders.AuthProvider) func(next http.Handler) http.Handler {
	return newAuthMiddleware(authProvider, true)
}

// NewOptionalAuthMiddleware lets requests without a token through unauthenticated
func NewOptionalAuthMiddleware(authProvider authproviders.AuthProvider) func(next http.Handler) http.Handler {
	return newAuthMiddleware(authProvider, false)
}

func newAuthMiddleware(authProvider authproviders.AuthProvider, required bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := Authenticate(r, authProvider)
			if err != nil {
				log.Error("failed to authenticate request: %v", err)
				http.Error(w, "Invalid ID token", http.StatusUnauthorized)
				return
			}
			if identity == nil {
				if required {
					http.Error(w, "Authorization header is missing", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), identity)))
		})
	}
}

// parseBearerToken parses the bearer token from the Authorization header.
// Browsers cannot set headers on WebSocket requests, so the token query parameter is accepted too.
func parseBearerToken(r *http.Request) (string, error) {
	// Get the Authorization header value
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return r.URL.Query().Get("token"), nil
	}

	// Check if the Authorization header has the Bearer scheme
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	// Return the token part
	return parts[1], nil
}

// NewCORSMiddleware allows browser calls from the listed origins and answers preflight requests
func NewCORSMiddleware(allowOrigins []string) func(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowOrigins))
	for _, origin := range allowOrigins {
		allowed[strings.ToLower(strings.TrimSuffix(origin, "/"))] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if _, ok := allowed[strings.ToLower(origin)]; ok && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
