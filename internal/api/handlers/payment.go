package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/paygate/internal/api/httpx"
	"github.com/baharkarakas/paygate/internal/api/validate"
	"github.com/baharkarakas/paygate/internal/middleware"
	"github.com/baharkarakas/paygate/internal/models"
	"github.com/baharkarakas/paygate/internal/services"
)

type PaymentHandler struct {
	Payments *services.PaymentService
	Settler  *services.Settler
	Log      *slog.Logger
}

func NewPaymentHandler(ps *services.PaymentService, st *services.Settler, log *slog.Logger) *PaymentHandler {
	return &PaymentHandler{Payments: ps, Settler: st, Log: log}
}

type checkoutReq struct {
	Amount        *decimal.Decimal `json:"amount"`
	ItemName      string           `json:"item_name" validate:"required,max=200"`
	OrderID       string           `json:"order_id" validate:"max=100"`
	CustomerEmail string           `json:"customer_email" validate:"omitempty,email"`
	CustomerName  string           `json:"customer_name" validate:"max=100"`
	CustomerPhone string           `json:"customer_phone" validate:"max=30"`
	ReturnURL     string           `json:"return_url" validate:"omitempty,url"`
	Metadata      map[string]any   `json:"metadata"`
}

type checkoutResp struct {
	Success       bool      `json:"success"`
	TransactionID string    `json:"transaction_id"`
	TradeNo       string    `json:"merchant_trade_no"`
	CheckoutURL   string    `json:"checkout_url"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (h *PaymentHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	m, _ := middleware.MerchantFrom(r.Context())
	var req checkoutReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	amount, amountErr := validate.Amount("amount", req.Amount)
	if err := validate.Merge(amountErr, validate.Struct(req)); err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}

	co, err := h.Payments.Create(r.Context(), m, services.CheckoutRequest{
		Amount:        amount,
		ItemName:      req.ItemName,
		OrderRef:      req.OrderID,
		ReturnURL:     req.ReturnURL,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Metadata:      req.Metadata,
	})
	if err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, checkoutResp{
		Success:       true,
		TransactionID: co.Transaction.ID,
		TradeNo:       co.Transaction.TradeNo,
		CheckoutURL:   co.CheckoutURL,
		ExpiresAt:     co.Transaction.ExpiresAt,
	})
}

// CheckoutPage is opened by the shopper's browser; errors are plain text.
func (h *PaymentHandler) CheckoutPage(w http.ResponseWriter, r *http.Request) {
	form, err := h.Payments.RenderRedirect(r.Context(), chi.URLParam(r, "tradeNo"))
	if err != nil {
		writePageErr(w, h.Log, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := form.Render(w); err != nil {
		h.Log.Error("render checkout form", "err", err)
	}
}

func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	params, err := httpx.FormParams(r)
	if err == nil {
		err = h.Payments.HandleCallback(r.Context(), params, httpx.ClientIP(r))
	}
	httpx.WriteCallbackAck(w, "Transaction", err)
}

func (h *PaymentHandler) Result(w http.ResponseWriter, r *http.Request) {
	params, err := httpx.FormParams(r)
	if err != nil {
		writePageErr(w, h.Log, err)
		return
	}
	http.Redirect(w, r, h.Payments.ResultRedirect(r.Context(), params), http.StatusFound)
}

func (h *PaymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, _ := middleware.MerchantFrom(r.Context())
	t, err := h.Payments.Get(r.Context(), m.ID, chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"transaction": t})
}

func (h *PaymentHandler) List(w http.ResponseWriter, r *http.Request) {
	m, _ := middleware.MerchantFrom(r.Context())
	q := r.URL.Query()
	f := models.TransactionFilter{
		MerchantID: m.ID,
		Status:     models.TransactionStatus(q.Get("status")),
		OrderRef:   q.Get("order_id"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.Offset = n
		}
	}
	txs, err := h.Payments.List(r.Context(), f)
	if err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// Capture retries the downstream capture of an authorized transaction.
func (h *PaymentHandler) Capture(w http.ResponseWriter, r *http.Request) {
	m, _ := middleware.MerchantFrom(r.Context())
	id := chi.URLParam(r, "id")
	if _, err := h.Payments.Get(r.Context(), m.ID, id); err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	t, err := h.Settler.Capture(r.Context(), id)
	if err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"transaction": t})
}

func writePageErr(w http.ResponseWriter, log *slog.Logger, err error) {
	status, _ := httpx.Status(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("page request failed", "err", err)
		msg = "Internal server error"
	}
	http.Error(w, msg, status)
}
