package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/baharkarakas/paygate/internal/apperr"
	"github.com/baharkarakas/paygate/internal/checkmac"
	"github.com/baharkarakas/paygate/internal/ecpay"
	"github.com/baharkarakas/paygate/internal/metrics"
	"github.com/baharkarakas/paygate/internal/models"
	repo "github.com/baharkarakas/paygate/internal/repository"
	"github.com/baharkarakas/paygate/internal/vault"
)

const (
	LogisticsWebhookPath = "/api/v1/logistics/webhook"
	CvsMapCallbackPath   = "/api/v1/logistics/cvs-map/callback"
)

type LogisticsService struct {
	merchants  repo.Merchants
	shipments  repo.Shipments
	selections repo.CvsSelections
	hooks      repo.WebhookLogs
	audit      repo.AuditLogs
	vault      *vault.Vault
	processor  *ecpay.Client
	gateway    string
	log        *slog.Logger
	now        Clock
}

func NewLogisticsService(r repo.Set, v *vault.Vault, pc *ecpay.Client, gatewayURL string, log *slog.Logger) *LogisticsService {
	return &LogisticsService{
		merchants:  r.Merchants,
		shipments:  r.Shipments,
		selections: r.CvsSelections,
		hooks:      r.WebhookLogs,
		audit:      r.AuditLogs,
		vault:      v,
		processor:  pc,
		gateway:    gatewayURL,
		log:        log.With("component", "logistics"),
		now:        time.Now,
	}
}

func (s *LogisticsService) WithClock(c Clock) *LogisticsService { s.now = c; return s }

// subType resolves the short and C2C spellings; unknown values fall back to UNIMARTC2C.
func subType(v string) models.LogisticsSubType {
	if st, ok := models.ParseSubType(strings.ToUpper(strings.TrimSpace(v))); ok {
		return st
	}
	return models.SubTypeUnimart
}

type CvsMapRequest struct {
	SubType      string
	IsCollection bool
	TempTradeNo  string
	ReturnURL    string
}

// CvsMap opens a store-picker session. The temp trade number travels through
// the processor in ExtraData and keys the resulting CvsSelection.
func (s *LogisticsService) CvsMap(ctx context.Context, m models.Merchant, req CvsMapRequest) (ecpay.Form, string, error) {
	now := s.now()
	temp := req.TempTradeNo
	if temp == "" {
		temp = ecpay.NewTradeNo(now)
	}
	st := subType(req.SubType)

	_, err := s.selections.Upsert(ctx, models.CvsSelection{
		MerchantID:   m.ID,
		TempTradeNo:  temp,
		SubType:      st,
		IsCollection: req.IsCollection,
		ReturnURL:    req.ReturnURL,
		ExpiresAt:    now.Add(models.CvsSelectionTTL),
	})
	if err != nil {
		return ecpay.Form{}, "", err
	}

	params := ecpay.MapParams(ecpay.MapRequest{
		MerchantID:   m.ProcessorMerchantID,
		TradeNo:      ecpay.NewTradeNo(now),
		SubType:      st,
		IsCollection: req.IsCollection,
		ReplyURL:     gatewayPath(s.gateway, CvsMapCallbackPath) + "?merchant=" + url.QueryEscape(m.Code),
		ExtraData:    temp,
	})
	return ecpay.Form{
		Title:  "選擇取貨門市",
		Action: s.processor.Endpoints(m.Staging()).LogisticsMap,
		Fields: params,
	}, temp, nil
}

// StoreSelection records the store the shopper picked and returns where to
// send the browser next.
func (s *LogisticsService) StoreSelection(ctx context.Context, merchantCode string, params map[string]string) (string, error) {
	m, err := s.merchants.GetByCode(ctx, merchantCode)
	if err != nil {
		return "", notFound(err, "merchant", merchantCode)
	}
	temp := params["ExtraData"]
	if temp == "" {
		return "", apperr.Invalid("ExtraData", "missing temp trade number")
	}
	if params["CVSStoreID"] == "" {
		return "", apperr.Invalid("CVSStoreID", "required")
	}

	sel := models.CvsSelection{MerchantID: m.ID, TempTradeNo: temp, SubType: subType(params["LogisticsSubType"])}
	if prev, err := s.selections.GetByTempTradeNo(ctx, m.ID, temp); err == nil {
		sel.IsCollection = prev.IsCollection
		sel.ReturnURL = prev.ReturnURL
	} else if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	sel.StoreID = params["CVSStoreID"]
	sel.StoreName = params["CVSStoreName"]
	sel.StoreAddress = params["CVSAddress"]
	sel.ExpiresAt = s.now().Add(models.CvsSelectionTTL)

	sel, err = s.selections.Upsert(ctx, sel)
	if err != nil {
		return "", err
	}
	s.log.Info("store selected", "merchant", m.Code, "temp_trade_no", temp, "store", sel.StoreID)

	target := sel.ReturnURL
	if target == "" {
		target = m.SuccessURL
	}
	q := url.Values{}
	q.Set("temp_trade_no", temp)
	q.Set("store_id", sel.StoreID)
	q.Set("store_name", sel.StoreName)
	q.Set("store_address", sel.StoreAddress)
	q.Set("logistics_sub_type", string(sel.SubType))
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + q.Encode(), nil
}

type ShipmentRequest struct {
	OrderRef    string
	TempTradeNo string

	SubType      string
	StoreID      string
	StoreName    string
	StoreAddress string

	ReceiverName  string
	ReceiverPhone string
	ReceiverEmail string
	SenderName    string
	SenderPhone   string

	GoodsName        string
	GoodsAmount      int64
	TradeDesc        string
	IsCollection     bool
	CollectionAmount int64
}

// CreateFromSelection inserts the shipment as pending, then calls the
// processor. The row must exist before the call returns because the status
// callback for the new trade number can arrive first.
func (s *LogisticsService) CreateFromSelection(ctx context.Context, m models.Merchant, req ShipmentRequest) (models.Shipment, error) {
	sh := models.Shipment{
		MerchantID:    m.ID,
		OrderRef:      req.OrderRef,
		StoreID:       req.StoreID,
		StoreName:     req.StoreName,
		StoreAddress:  req.StoreAddress,
		ReceiverName:  req.ReceiverName,
		ReceiverPhone: req.ReceiverPhone,
		ReceiverEmail: req.ReceiverEmail,
		SenderName:    req.SenderName,
		SenderPhone:   req.SenderPhone,
		GoodsName:     req.GoodsName,
		GoodsAmount:   req.GoodsAmount,
		IsCollection:  req.IsCollection,
		Status:        models.ShipPending,
	}
	rawSubType := req.SubType

	var sel *models.CvsSelection
	if req.TempTradeNo != "" {
		c, err := s.selections.GetByTempTradeNo(ctx, m.ID, req.TempTradeNo)
		if err != nil {
			return models.Shipment{}, notFound(err, "store selection", req.TempTradeNo)
		}
		if c.IsUsed {
			return models.Shipment{}, fmt.Errorf("%w: store selection %s already used", apperr.ErrConflict, req.TempTradeNo)
		}
		if s.now().After(c.ExpiresAt) {
			return models.Shipment{}, fmt.Errorf("%w: store selection %s", apperr.ErrExpired, req.TempTradeNo)
		}
		sel = &c
		sh.StoreID, sh.StoreName, sh.StoreAddress = c.StoreID, c.StoreName, c.StoreAddress
		rawSubType = string(c.SubType)
		if !req.IsCollection {
			sh.IsCollection = c.IsCollection
		}
	}

	var fields []apperr.FieldError
	if strings.TrimSpace(sh.StoreID) == "" {
		fields = append(fields, apperr.FieldError{Field: "receiver_store_id", Msg: "required"})
	}
	if strings.TrimSpace(rawSubType) == "" {
		fields = append(fields, apperr.FieldError{Field: "logistics_sub_type", Msg: "required"})
	}
	if strings.TrimSpace(sh.ReceiverName) == "" {
		fields = append(fields, apperr.FieldError{Field: "receiver_name", Msg: "required"})
	}
	if sh.GoodsAmount <= 0 {
		fields = append(fields, apperr.FieldError{Field: "goods_amount", Msg: "must be a positive integer"})
	}
	if len(fields) > 0 {
		return models.Shipment{}, &apperr.ValidationError{Fields: fields}
	}
	sh.SubType = subType(rawSubType)
	if sh.SenderName == "" {
		sh.SenderName = m.Name
	}
	if sh.IsCollection {
		sh.CollectionAmt = req.CollectionAmount
		if sh.CollectionAmt <= 0 {
			sh.CollectionAmt = sh.GoodsAmount
		}
	}

	creds, err := credentials(s.vault, m)
	if err != nil {
		return models.Shipment{}, err
	}

	now := s.now()
	for i := 0; i < maxTradeNoRetries; i++ {
		sh.TradeNo = ecpay.NewTradeNo(now)
		var inserted models.Shipment
		inserted, err = s.shipments.Insert(ctx, sh)
		if err == nil {
			sh = inserted
			break
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			return models.Shipment{}, err
		}
	}
	if err != nil {
		return models.Shipment{}, err
	}
	audit(ctx, s.audit, s.log, "shipment", sh.ID, "created", map[string]any{"merchant_trade_no": sh.TradeNo, "store_id": sh.StoreID})

	// consume the selection only once the row exists; a concurrent create
	// that consumed it first leaves this row failed without a processor call
	if sel != nil {
		ok, err := s.selections.MarkUsed(ctx, sel.ID)
		if err == nil && !ok {
			err = fmt.Errorf("%w: store selection %s already used", apperr.ErrConflict, sel.TempTradeNo)
		}
		if err != nil {
			return s.failPending(ctx, sh.TradeNo, err), err
		}
	}

	params := ecpay.ShipmentParams(ecpay.ShipmentOrder{
		MerchantID:       creds.MerchantID,
		TradeNo:          sh.TradeNo,
		TradeDate:        now,
		SubType:          sh.SubType,
		GoodsName:        sh.GoodsName,
		GoodsAmount:      sh.GoodsAmount,
		TradeDesc:        req.TradeDesc,
		SenderName:       sh.SenderName,
		SenderPhone:      sh.SenderPhone,
		ReceiverName:     sh.ReceiverName,
		ReceiverPhone:    sh.ReceiverPhone,
		ReceiverEmail:    sh.ReceiverEmail,
		ReceiverStoreID:  sh.StoreID,
		ReplyURL:         gatewayPath(s.gateway, LogisticsWebhookPath),
		IsCollection:     sh.IsCollection,
		CollectionAmount: sh.CollectionAmt,
	})
	checkmac.SignInto(params, creds.HashKey, creds.HashIV, checkmac.Logistics)

	reply, callErr := s.processor.CreateShipment(ctx, m.Staging(), params)
	if callErr != nil {
		metrics.UpstreamFailures.WithLabelValues("create_shipment").Inc()
		s.log.Error("create shipment call failed", "trade_no", sh.TradeNo, "err", callErr)
		return s.failPending(ctx, sh.TradeNo, callErr), callErr
	}

	outcome := models.ShipFailed
	if ecpay.CreateAccepted(reply.RtnCode) {
		outcome = models.ShipCreated
	}
	cur, err := s.applyReply(ctx, sh.TradeNo, outcome, reply, true)
	if err != nil {
		return models.Shipment{}, err
	}
	if outcome == models.ShipFailed {
		return cur, apperr.Upstream("create shipment", fmt.Errorf("processor rejected %s: %s %s", sh.TradeNo, reply.RtnCode, reply.RtnMsg))
	}
	s.log.Info("shipment created", "trade_no", sh.TradeNo, "logistics_id", reply.LogisticsID, "status", cur.Status)
	return cur, nil
}

// failPending marks the shipment failed with cause unless something (a
// callback) already moved it off pending, and returns the current row.
func (s *LogisticsService) failPending(ctx context.Context, tradeNo string, cause error) models.Shipment {
	cur, err := s.shipments.GetByTradeNo(ctx, tradeNo)
	if err != nil || cur.Status != models.ShipPending {
		return cur
	}
	var p models.ShipmentPatch
	p.Stamp(models.ShipFailed, s.now())
	p.ErrorMessage = models.Ptr(cause.Error())
	if err := s.shipments.UpdateFields(ctx, cur.ID, p); err != nil {
		s.log.Warn("mark shipment failed", "trade_no", tradeNo, "err", err)
		return cur
	}
	p.ApplyTo(&cur)
	return cur
}

// applyReply writes a processor snapshot onto the current row. The snapshot
// and identifiers are always recorded. With forwardOnly the status may only
// advance, so a late create reply cannot undo what a callback already moved;
// callbacks and queries are authoritative and overwrite the status as reported.
func (s *LogisticsService) applyReply(ctx context.Context, tradeNo string, status models.ShipmentStatus, r ecpay.Reply, forwardOnly bool) (models.Shipment, error) {
	cur, err := s.shipments.GetByTradeNo(ctx, tradeNo)
	if err != nil {
		return models.Shipment{}, notFound(err, "shipment", tradeNo)
	}

	p := models.ShipmentPatch{
		LogisticsID:  nonEmpty(r.LogisticsID),
		PaymentNo:    nonEmpty(r.PaymentNo),
		ValidationNo: nonEmpty(r.ValidationNo),
		RtnCode:      nonEmpty(r.RtnCode),
		RtnMsg:       nonEmpty(r.RtnMsg),
		RawResponse:  r.Snapshot(),
	}
	next := status
	if forwardOnly {
		var err error
		if next, err = cur.Status.Apply(status); err != nil {
			s.log.Info("shipment status not regressed", "trade_no", tradeNo, "current", cur.Status, "reported", status)
		}
	}
	if next != cur.Status {
		p.Stamp(next, s.now())
		if next == models.ShipFailed {
			p.ErrorMessage = nonEmpty(r.RtnMsg)
		}
		metrics.Transitions.WithLabelValues("shipment", string(next)).Inc()
	}

	if err := s.shipments.UpdateFields(ctx, cur.ID, p); err != nil {
		return models.Shipment{}, err
	}
	p.ApplyTo(&cur)
	return cur, nil
}

// HandleStatusCallback applies a processor logistics status notification.
// The mapped status is written as reported, unknown codes included (they map
// to pending). Re-applying the same status changes nothing but the snapshot.
func (s *LogisticsService) HandleStatusCallback(ctx context.Context, params map[string]string, sourceIP string) error {
	tradeNo := params["MerchantTradeNo"]
	sh, err := s.shipments.GetByTradeNo(ctx, tradeNo)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("logistics", "not_found").Inc()
		s.log.Warn("logistics callback for unknown trade", "trade_no", tradeNo)
		return notFound(err, "shipment", tradeNo)
	}
	m, err := s.merchants.GetByID(ctx, sh.MerchantID)
	if err != nil {
		return notFound(err, "merchant", sh.MerchantID)
	}
	creds, err := credentials(s.vault, m)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("logistics", "error").Inc()
		s.log.Error("logistics callback credentials", "trade_no", tradeNo, "err", err)
		return err
	}

	valid := checkmac.Verify(params, creds.HashKey, creds.HashIV, checkmac.Logistics)
	logID, err := s.hooks.Create(ctx, models.WebhookLog{
		MerchantID:    m.ID,
		EntityID:      sh.ID,
		Kind:          models.WebhookLogistics,
		SourceIP:      sourceIP,
		RawBody:       models.RawParams(params),
		CheckMacValid: valid,
	})
	if err != nil {
		s.log.Warn("webhook log write failed", "trade_no", tradeNo, "err", err)
	}
	if !valid {
		metrics.SignatureFailures.WithLabelValues("logistics").Inc()
		metrics.CallbacksTotal.WithLabelValues("logistics", "bad_signature").Inc()
		s.log.Warn("logistics callback signature mismatch", "trade_no", tradeNo, "ip", sourceIP)
		return fmt.Errorf("%w: logistics callback %s", apperr.ErrSignature, tradeNo)
	}

	code := params["RtnCode"]
	status := ecpay.ShipmentStatusFor(code)
	reply := ecpay.Reply{
		Fields:       params,
		RtnCode:      code,
		RtnMsg:       params["RtnMsg"],
		LogisticsID:  params["AllPayLogisticsID"],
		PaymentNo:    params["CVSPaymentNo"],
		ValidationNo: params["CVSValidationNo"],
	}
	cur, err := s.applyReply(ctx, tradeNo, status, reply, false)
	if err != nil {
		return err
	}
	if logID != "" {
		if err := s.hooks.MarkProcessed(ctx, logID, string(cur.Status)); err != nil {
			s.log.Warn("webhook log update failed", "id", logID, "err", err)
		}
	}
	metrics.CallbacksTotal.WithLabelValues("logistics", "applied").Inc()
	s.log.Info("logistics callback applied", "trade_no", tradeNo, "code", code, "status", cur.Status)
	return nil
}

// Get returns a shipment owned by merchantID.
func (s *LogisticsService) Get(ctx context.Context, merchantID, tradeNo string) (models.Shipment, error) {
	sh, err := s.shipments.GetByTradeNo(ctx, tradeNo)
	if err != nil || sh.MerchantID != merchantID {
		return models.Shipment{}, apperr.NotFound("shipment", tradeNo)
	}
	return sh, nil
}

// Refresh queries the processor for the shipment's current status and
// applies it the same way a callback would.
func (s *LogisticsService) Refresh(ctx context.Context, m models.Merchant, tradeNo string) (models.Shipment, error) {
	sh, err := s.Get(ctx, m.ID, tradeNo)
	if err != nil {
		return models.Shipment{}, err
	}
	if sh.LogisticsID == nil {
		return sh, nil
	}
	creds, err := credentials(s.vault, m)
	if err != nil {
		return models.Shipment{}, err
	}
	params := ecpay.ShipmentQueryParams(creds.MerchantID, *sh.LogisticsID, s.now())
	checkmac.SignInto(params, creds.HashKey, creds.HashIV, checkmac.Logistics)

	reply, err := s.processor.QueryShipment(ctx, m.Staging(), params)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("query_shipment").Inc()
		return sh, err
	}
	code := reply.LogisticsStatus
	if code == "" {
		code = reply.RtnCode
	}
	return s.applyReply(ctx, tradeNo, ecpay.ShipmentStatusFor(code), reply, false)
}
