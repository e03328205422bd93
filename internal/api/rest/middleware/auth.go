package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/caseloop/caseloop/internal/models"
	"github.com/caseloop/caseloop/pkg/auth"
	"github.com/caseloop/caseloop/pkg/logger"
)

// JWTAuth validates the bearer token and places the caller's identity in the
// request context
func JWTAuth(jwtManager *auth.JWTManager, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, http.StatusUnauthorized, "Missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondError(w, http.StatusUnauthorized, "Invalid authorization header format")
				return
			}

			claims, err := jwtManager.ValidateAccessToken(parts[1])
			if err != nil {
				log.Warn("Invalid JWT token", logger.Err(err))
				respondError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), "claims", claims)
			ctx = context.WithValue(ctx, "user_id", claims.UserID)
			ctx = context.WithValue(ctx, "organization_id", claims.OrganizationID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// respondError sends an error response with proper JSON encoding
func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetClaims extracts JWT claims from request context
func GetClaims(ctx context.Context) *auth.JWTClaims {
	if claims, ok := ctx.Value("claims").(*auth.JWTClaims); ok {
		return claims
	}
	return nil
}

// GetOrganizationID extracts the organization ID from request context.
// Returns uuid.Nil if not found.
func GetOrganizationID(ctx context.Context) uuid.UUID {
	if orgID, ok := ctx.Value("organization_id").(uuid.UUID); ok {
		return orgID
	}
	return uuid.Nil
}

// GetUserID extracts the user ID from request context.
// Returns uuid.Nil if not found.
func GetUserID(ctx context.Context) uuid.UUID {
	if userID, ok := ctx.Value("user_id").(uuid.UUID); ok {
		return userID
	}
	return uuid.Nil
}

// ActionContextFrom builds the caller's action context from authenticated
// claims. The entity focus is request-scoped; handlers fill it in from
// parameters.
func ActionContextFrom(ctx context.Context) *models.ActionContext {
	claims := GetClaims(ctx)
	if claims == nil {
		return nil
	}
	return &models.ActionContext{
		OrganizationID: claims.OrganizationID,
		UserID:         claims.UserID,
		Role:           claims.Role,
		Permissions:    claims.Permissions,
		ActorType:      models.ActorTypeUser,
	}
}
