package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/baharkarakas/paygate/internal/api/httpx"
	"github.com/baharkarakas/paygate/internal/auth"
)

// AuthHandler exchanges the static admin key for short-lived JWTs so the
// key itself is only sent once per session.
type AuthHandler struct {
	TM       *auth.TokenManager
	AdminKey string
}

func NewAuthHandler(tm *auth.TokenManager, adminKey string) *AuthHandler {
	return &AuthHandler{TM: tm, AdminKey: adminKey}
}

type tokenResp struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.AdminKey == "" {
		httpx.WriteError(w, http.StatusInternalServerError, "not_configured", "admin API key not configured", nil)
		return
	}
	key := r.Header.Get("x-admin-api-key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.AdminKey)) != 1 {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid admin API key", nil)
		return
	}
	h.issue(w, "admin", auth.RoleAdmin)
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "validation_failed", "refresh_token required", nil)
		return
	}
	claims, isRefresh, err := h.TM.ParseAny(req.RefreshToken)
	if err != nil || !isRefresh {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid refresh token", nil)
		return
	}
	h.issue(w, claims.Subject, claims.Role)
}

func (h *AuthHandler) issue(w http.ResponseWriter, subject, role string) {
	access, refresh, exp, err := h.TM.GeneratePair(subject, role)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "token generation failed", nil)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResp{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(time.Until(exp).Truncate(time.Second) / time.Second),
	})
}
