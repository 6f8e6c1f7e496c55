package middleware

import (
	"net/http"
	"slices"

	"github.com/baharkarakas/paygate/internal/api/httpx"
)

// RequireRole admits requests whose token carries one of roles. It must run
// after AdminAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaims(r.Context())
			switch {
			case !ok:
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing credentials", nil)
			case !slices.Contains(roles, claims.Role):
				httpx.WriteError(w, http.StatusForbidden, "forbidden", "role "+claims.Role+" may not access this resource", nil)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
