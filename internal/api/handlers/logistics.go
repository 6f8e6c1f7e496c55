package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/paygate/internal/api/httpx"
	"github.com/baharkarakas/paygate/internal/api/validate"
	"github.com/baharkarakas/paygate/internal/middleware"
	"github.com/baharkarakas/paygate/internal/models"
	"github.com/baharkarakas/paygate/internal/services"
)

type LogisticsHandler struct {
	Logistics *services.LogisticsService
	Log       *slog.Logger
}

func NewLogisticsHandler(ls *services.LogisticsService, log *slog.Logger) *LogisticsHandler {
	return &LogisticsHandler{Logistics: ls, Log: log}
}

func truthy(v string) bool {
	switch v {
	case "1", "true", "Y", "y", "yes":
		return true
	}
	return false
}

// CvsMap renders the auto-submitting store picker form.
func (h *LogisticsHandler) CvsMap(w http.ResponseWriter, r *http.Request) {
	m, _ := middleware.MerchantFrom(r.Context())
	q := r.URL.Query()
	subType := q.Get("logistics_sub_type")
	if subType == "" {
		subType = q.Get("sub_type")
	}
	form, _, err := h.Logistics.CvsMap(r.Context(), m, services.CvsMapRequest{
		SubType:      subType,
		IsCollection: truthy(q.Get("is_collection")),
		TempTradeNo:  q.Get("temp_trade_no"),
		ReturnURL:    q.Get("return_url"),
	})
	if err != nil {
		writePageErr(w, h.Log, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := form.Render(w); err != nil {
		h.Log.Error("render map form", "err", err)
	}
}

// CvsMapCallback receives the processor's store pick and bounces the
// browser back to the merchant.
func (h *LogisticsHandler) CvsMapCallback(w http.ResponseWriter, r *http.Request) {
	params, err := httpx.FormParams(r)
	if err != nil {
		writePageErr(w, h.Log, err)
		return
	}
	target, err := h.Logistics.StoreSelection(r.Context(), r.URL.Query().Get("merchant"), params)
	if err != nil {
		writePageErr(w, h.Log, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

type shipmentReq struct {
	OrderID              string           `json:"order_id" validate:"max=100"`
	TempTradeNo          string           `json:"temp_trade_no" validate:"max=20"`
	LogisticsSubType     string           `json:"logistics_sub_type"`
	ReceiverStoreID      string           `json:"receiver_store_id" validate:"max=10"`
	ReceiverStoreName    string           `json:"receiver_store_name"`
	ReceiverStoreAddress string           `json:"receiver_store_address"`
	ReceiverName         string           `json:"receiver_name"`
	ReceiverPhone        string           `json:"receiver_phone" validate:"omitempty,numeric,max=20"`
	ReceiverEmail        string           `json:"receiver_email" validate:"omitempty,email"`
	SenderName           string           `json:"sender_name"`
	SenderPhone          string           `json:"sender_phone" validate:"omitempty,numeric,max=20"`
	GoodsName            string           `json:"goods_name"`
	GoodsAmount          *decimal.Decimal `json:"goods_amount"`
	TradeDesc            string           `json:"trade_desc"`
	IsCollection         bool             `json:"is_collection"`
	CollectionAmount     *decimal.Decimal `json:"collection_amount"`
}

func (h *LogisticsHandler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	m, _ := middleware.MerchantFrom(r.Context())
	var req shipmentReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	goods, goodsErr := validate.Amount("goods_amount", req.GoodsAmount)
	var collection int64
	var collectionErr error
	if req.CollectionAmount != nil {
		collection, collectionErr = validate.Amount("collection_amount", req.CollectionAmount)
	}
	if err := validate.Merge(goodsErr, collectionErr, validate.Struct(req)); err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}

	sh, err := h.Logistics.CreateFromSelection(r.Context(), m, services.ShipmentRequest{
		OrderRef:         req.OrderID,
		TempTradeNo:      req.TempTradeNo,
		SubType:          req.LogisticsSubType,
		StoreID:          req.ReceiverStoreID,
		StoreName:        req.ReceiverStoreName,
		StoreAddress:     req.ReceiverStoreAddress,
		ReceiverName:     req.ReceiverName,
		ReceiverPhone:    req.ReceiverPhone,
		ReceiverEmail:    req.ReceiverEmail,
		SenderName:       req.SenderName,
		SenderPhone:      req.SenderPhone,
		GoodsName:        req.GoodsName,
		GoodsAmount:      goods,
		TradeDesc:        req.TradeDesc,
		IsCollection:     req.IsCollection,
		CollectionAmount: collection,
	})
	if err != nil {
		if sh.ID != "" {
			// the row exists; hand it back so the caller can query it later
			status, code := httpx.Status(err)
			httpx.WriteError(w, status, code, err.Error(), map[string]any{"shipment": sh})
			return
		}
		httpx.WriteErr(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "shipment": sh})
}

// GetShipment returns the stored shipment, or with refresh=1 re-queries the processor first.
func (h *LogisticsHandler) GetShipment(w http.ResponseWriter, r *http.Request) {
	m, _ := middleware.MerchantFrom(r.Context())
	tradeNo := chi.URLParam(r, "tradeNo")
	var (
		sh  models.Shipment
		err error
	)
	if truthy(r.URL.Query().Get("refresh")) {
		sh, err = h.Logistics.Refresh(r.Context(), m, tradeNo)
	} else {
		sh, err = h.Logistics.Get(r.Context(), m.ID, tradeNo)
	}
	if err != nil {
		httpx.WriteErr(w, h.Log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"shipment": sh})
}

func (h *LogisticsHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	params, err := httpx.FormParams(r)
	if err == nil {
		err = h.Logistics.HandleStatusCallback(r.Context(), params, httpx.ClientIP(r))
	}
	httpx.WriteCallbackAck(w, "Shipment", err)
}
