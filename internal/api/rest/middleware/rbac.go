package middleware

import (
	"net/http"

	"github.com/caseloop/caseloop/pkg/logger"
)

// RequirePermission is a middleware that checks if the caller has a specific permission
func RequirePermission(permission string, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				log.Warn("No claims found in context for permission check")
				respondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			if !hasPermission(claims.Permissions, permission) {
				log.Warn("Permission denied",
					logger.String("user_id", claims.UserID.String()),
					logger.String("required_permission", permission),
				)
				respondError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission is a middleware that checks if the caller has any of the specified permissions
func RequireAnyPermission(permissions []string, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				log.Warn("No claims found in context for permission check")
				respondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			hasAny := false
			for _, perm := range permissions {
				if hasPermission(claims.Permissions, perm) {
					hasAny = true
					break
				}
			}

			if !hasAny {
				log.Warn("Permission denied - no matching permissions",
					logger.String("user_id", claims.UserID.String()),
					logger.Any("required_permissions", permissions),
				)
				respondError(w, http.StatusForbidden, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole is a middleware that checks if the caller holds a specific role
func RequireRole(role string, log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil {
				log.Warn("No claims found in context for role check")
				respondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			if claims.Role != role {
				log.Warn("Role check failed",
					logger.String("user_id", claims.UserID.String()),
					logger.String("required_role", role),
				)
				respondError(w, http.StatusForbidden, "Insufficient privileges")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func hasPermission(userPermissions []string, required string) bool {
	for _, perm := range userPermissions {
		if perm == required {
			return true
		}
	}
	return false
}
