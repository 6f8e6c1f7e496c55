package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/baharkarakas/paygate/internal/api/httpx"
	"github.com/baharkarakas/paygate/internal/api/validate"
	"github.com/baharkarakas/paygate/internal/models"
	"github.com/baharkarakas/paygate/internal/services"
)

type AdminHandler struct {
	Merchants *services.MerchantService
	Log       *slog.Logger
}

func NewAdminHandler(ms *services.MerchantService, log *slog.Logger) *AdminHandler {
	return &AdminHandler{Merchants: ms, Log: log}
}

type credentialsReq struct {
	ProcessorMerchantID string `json:"processor_merchant_id"`
	HashKey             string `json:"hash_key"`
	HashIV              string `json:"hash_iv"`
	Environment         string `json:"environment" validate:"omitempty,oneof=staging production"`
}

func (c credentialsReq) credentials() models.Credentials {
	return models.Credentials{
		MerchantID:  c.ProcessorMerchantID,
		HashKey:     c.HashKey,
		HashIV:      c.HashIV,
		Environment: models.Environment(c.Environment),
	}
}

type createMerchantReq struct {
	Code        string `json:"code" validate:"required,max=50"`
	Name        string `json:"name" validate:"required,max=200"`
	WebhookURL  string `json:"webhook_url" validate:"omitempty,url"`
	SuccessURL  string `json:"success_url" validate:"required,url"`
	FailureURL  string `json:"failure_url" validate:"required,url"`
	CommerceURL string `json:"commerce_url" validate:"omitempty,url"`
	CommerceKey string `json:"commerce_key"`
	credentialsReq
}

type createMerchantResp struct {
	Success  bool            `json:"success"`
	Merchant models.Merchant `json:"merchant"`
	APIKey   string          `json:"api_key"`
	Message  string          `json:"message"`
}

func (h *AdminHandler) CreateMerchant(w http.ResponseWriter, r *http.Request) {
	var req createMerchantReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	m, key, err := h.Merchants.Create(r.Context(), services.NewMerchant{
		Code:        req.Code,
		Name:        req.Name,
		Credentials: req.credentials(),
		WebhookURL:  req.WebhookURL,
		SuccessURL:  req.SuccessURL,
		FailureURL:  req.FailureURL,
		CommerceURL: req.CommerceURL,
		CommerceKey: req.CommerceKey,
	}, httpx.ClientIP(r))
	if err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, createMerchantResp{
		Success:  true,
		Merchant: m,
		APIKey:   key,
		Message:  "Save the api_key securely, it will not be shown again",
	})
}

func (h *AdminHandler) ListMerchants(w http.ResponseWriter, r *http.Request) {
	ms, err := h.Merchants.List(r.Context())
	if err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"merchants": ms})
}

func (h *AdminHandler) GetCredentials(w http.ResponseWriter, r *http.Request) {
	v, err := h.Merchants.Credentials(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "credentials": v})
}

func (h *AdminHandler) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	v, err := h.Merchants.RotateCredentials(r.Context(), chi.URLParam(r, "code"), req.credentials(), httpx.ClientIP(r))
	if err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "Credentials updated successfully",
		"credentials": v,
	})
}

type switchEnvReq struct {
	TargetEnvironment string `json:"target_environment"`
	Confirm           bool   `json:"confirm"`
}

func (h *AdminHandler) SwitchEnvironment(w http.ResponseWriter, r *http.Request) {
	var req switchEnvReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	target := models.Environment(req.TargetEnvironment)
	from, err := h.Merchants.SwitchEnvironment(r.Context(), chi.URLParam(r, "code"), target, req.Confirm, httpx.ClientIP(r))
	if err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success":              true,
		"previous_environment": from,
		"current_environment":  target,
	})
}

func (h *AdminHandler) TestCredentials(w http.ResponseWriter, r *http.Request) {
	res, err := h.Merchants.TestCredentials(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "valid": res.Valid, "message": res.Message})
}

func (h *AdminHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.Merchants.Deactivate(r.Context(), chi.URLParam(r, "code"), httpx.ClientIP(r)); err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}
