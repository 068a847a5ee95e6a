// Package middleware provides HTTP middleware for the API plane.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// TokenValidator verifies a bearer session token and returns the membership
// it is bound to. Implemented by the session registry.
type TokenValidator interface {
	ValidateToken(token string) (sessionID, clientID string, err error)
}

type contextKey string

const membershipContextKey contextKey = "membership"

// Membership identifies the authenticated (session, client) pair.
type Membership struct {
	SessionID string
	ClientID  string
}

// SessionAuth returns middleware that validates the Authorization bearer
// token against the session registry and injects the membership into the
// request context. Missing, invalid, revoked, and expired tokens all map to
// 401 without detail, so callers cannot probe session state.
func SessionAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r)
			if !ok {
				writeUnauthorized(w, "missing or malformed authorization header")
				return
			}

			sessionID, clientID, err := validator.ValidateToken(token)
			if err != nil {
				writeUnauthorized(w, "invalid session token")
				return
			}

			ctx := context.WithValue(r.Context(), membershipContextKey, &Membership{
				SessionID: sessionID,
				ClientID:  clientID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetMembershipFromContext returns the authenticated membership, or nil if
// the request did not pass through SessionAuth.
func GetMembershipFromContext(ctx context.Context) *Membership {
	m, _ := ctx.Value(membershipContextKey).(*Membership)
	return m
}

// writeUnauthorized emits the standard error envelope without depending on
// the handlers package, which sits above this one.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "error",
		"timestamp": time.Now().UTC(),
		"error":     message,
	})
}

// extractBearerToken pulls the token out of the Authorization header.
// The scheme comparison is case-insensitive.
func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
