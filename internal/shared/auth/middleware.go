package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	coreauth "github.com/brain-byt-es/bont-db-sub000/internal/auth"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/config"
	"github.com/brain-byt-es/bont-db-sub000/internal/shared/types"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

// User represents the authenticated user from JWT claims
type User struct {
	ID             types.ID        `json:"sub"`
	OrganizationID types.ID        `json:"organization_id"`
	Roles          []coreauth.Role `json:"roles"`
	Specialty      string          `json:"specialty"`
	SessionID      string          `json:"session_id"`
}

// Claims extends JWT claims with service-specific data
type Claims struct {
	jwt.RegisteredClaims
	OrganizationID string   `json:"organization_id,omitempty"`
	Roles          []string `json:"roles"`
	Specialty      string   `json:"specialty,omitempty"`
	SessionID      string   `json:"session_id"`
}

// Middleware creates JWT authentication middleware. Tokens are validated
// here, never minted; session issuance is external.
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			token, err := jwt.ParseWithClaims(parts[1], &Claims{}, func(token *jwt.Token) (interface{}, error) {
				return []byte(cfg.JWTSecret), nil
			})

			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			claims, ok := token.Claims.(*Claims)
			if !ok || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			roles := make([]coreauth.Role, 0, len(claims.Roles))
			for _, r := range claims.Roles {
				roles = append(roles, coreauth.Role(r))
			}

			user := &User{
				ID:             types.ID(claims.Subject),
				OrganizationID: types.ID(claims.OrganizationID),
				Roles:          roles,
				Specialty:      claims.Specialty,
				SessionID:      claims.SessionID,
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser extracts the user from request context
func GetUser(ctx context.Context) *User {
	user, ok := ctx.Value(UserContextKey).(*User)
	if !ok {
		return nil
	}
	return user
}

// HasCapability checks whether the user's roles grant the capability
func (u *User) HasCapability(cap coreauth.Capability) bool {
	return coreauth.RoleChecker{}.HasCapability(u.Roles, cap)
}

// RequireCapability creates middleware that requires a capability
func RequireCapability(cap coreauth.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if !user.HasCapability(cap) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
