package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/baharkarakas/paygate/internal/api/httpx"
	"github.com/baharkarakas/paygate/internal/apperr"
	"github.com/baharkarakas/paygate/internal/auth"
	"github.com/baharkarakas/paygate/internal/models"
)

// AdminAuth accepts a bearer access token issued by the admin token endpoint.
func AdminAuth(tm *auth.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ah := r.Header.Get("Authorization")
			if ah == "" || !strings.HasPrefix(strings.ToLower(ah), "bearer ") {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token", nil)
				return
			}
			token := strings.TrimSpace(ah[len("Bearer "):])

			claims, isRefresh, err := tm.ParseAny(token)
			if err != nil || isRefresh {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid access token", nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

type MerchantAuthenticator interface {
	Authenticate(ctx context.Context, apiKey string) (models.Merchant, error)
}

// MerchantAuth resolves the x-api-key header to an active merchant. When
// allowQuery is set the key may also come from the api_key query parameter,
// for pages a browser opens directly.
func MerchantAuth(a MerchantAuthenticator, log *slog.Logger, allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("x-api-key")
			if key == "" && allowQuery {
				key = r.URL.Query().Get("api_key")
			}
			if key == "" {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing API key", nil)
				return
			}
			m, err := a.Authenticate(r.Context(), key)
			if errors.Is(err, apperr.ErrUnauthorized) {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid API key", nil)
				return
			}
			if err != nil {
				httpx.WriteErr(w, log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithMerchant(r.Context(), m)))
		})
	}
}
