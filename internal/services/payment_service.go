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
	WebhookPath       = "/api/v1/payment/webhook"
	ResultPath        = "/api/v1/payment/result"
	CheckoutPagePath  = "/api/v1/payment/checkout/"
	maxTradeNoRetries = 3
)

// IntentPublisher hands a settlement intent to the background worker.
// Submit must not block; false means the intent was dropped.
type IntentPublisher interface {
	Submit(SettlementIntent) bool
}

type PaymentService struct {
	merchants repo.Merchants
	txns      repo.Transactions
	hooks     repo.WebhookLogs
	audit     repo.AuditLogs
	vault     *vault.Vault
	processor *ecpay.Client
	gateway   string
	pub       IntentPublisher
	log       *slog.Logger
	now       Clock
}

func NewPaymentService(r repo.Set, v *vault.Vault, pc *ecpay.Client, gatewayURL string, pub IntentPublisher, log *slog.Logger) *PaymentService {
	return &PaymentService{
		merchants: r.Merchants,
		txns:      r.Transactions,
		hooks:     r.WebhookLogs,
		audit:     r.AuditLogs,
		vault:     v,
		processor: pc,
		gateway:   gatewayURL,
		pub:       pub,
		log:       log.With("component", "payment"),
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (s *PaymentService) WithClock(c Clock) *PaymentService { s.now = c; return s }

type CheckoutRequest struct {
	Amount        int64
	ItemName      string
	OrderRef      string
	ReturnURL     string
	CustomerEmail string
	CustomerName  string
	CustomerPhone string
	Metadata      map[string]any
}

type Checkout struct {
	Transaction models.Transaction
	CheckoutURL string
}

// Create persists a pending transaction and returns the URL that starts the
// processor redirect.
func (s *PaymentService) Create(ctx context.Context, m models.Merchant, req CheckoutRequest) (Checkout, error) {
	var fields []apperr.FieldError
	if req.Amount <= 0 {
		fields = append(fields, apperr.FieldError{Field: "amount", Msg: "must be a positive integer"})
	}
	if strings.TrimSpace(req.ItemName) == "" {
		fields = append(fields, apperr.FieldError{Field: "item_name", Msg: "required"})
	}
	if len(fields) > 0 {
		return Checkout{}, &apperr.ValidationError{Fields: fields}
	}

	now := s.now()
	t := models.Transaction{
		MerchantID:    m.ID,
		Amount:        req.Amount,
		Currency:      "TWD",
		Status:        models.TxnPending,
		ItemName:      req.ItemName,
		OrderRef:      req.OrderRef,
		ReturnURL:     req.ReturnURL,
		Metadata:      req.Metadata,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		ExpiresAt:     now.Add(models.TransactionTTL),
	}

	var err error
	for i := 0; i < maxTradeNoRetries; i++ {
		t.TradeNo = ecpay.NewTradeNo(now)
		var created models.Transaction
		created, err = s.txns.Insert(ctx, t)
		if err == nil {
			t = created
			break
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			return Checkout{}, err
		}
	}
	if err != nil {
		return Checkout{}, err
	}

	audit(ctx, s.audit, s.log, "transaction", t.ID, "created", map[string]any{"merchant_trade_no": t.TradeNo, "amount": t.Amount})
	s.log.Info("checkout created", "trade_no", t.TradeNo, "merchant", m.Code, "amount", t.Amount)
	return Checkout{Transaction: t, CheckoutURL: gatewayPath(s.gateway, CheckoutPagePath+t.TradeNo)}, nil
}

// RenderRedirect builds the signed auto-submit form for a pending transaction.
func (s *PaymentService) RenderRedirect(ctx context.Context, tradeNo string) (ecpay.Form, error) {
	t, err := s.txns.GetByTradeNo(ctx, tradeNo)
	if err != nil {
		return ecpay.Form{}, notFound(err, "transaction", tradeNo)
	}
	if t.Status != models.TxnPending {
		return ecpay.Form{}, fmt.Errorf("%w: transaction %s is %s", apperr.ErrAlreadyProcessed, tradeNo, t.Status)
	}
	if t.EffectiveStatus(s.now()) == models.TxnExpired {
		return ecpay.Form{}, fmt.Errorf("%w: transaction %s", apperr.ErrExpired, tradeNo)
	}

	m, err := s.merchants.GetByID(ctx, t.MerchantID)
	if err != nil {
		return ecpay.Form{}, notFound(err, "merchant", t.MerchantID)
	}
	creds, err := credentials(s.vault, m)
	if err != nil {
		return ecpay.Form{}, err
	}

	params := ecpay.PaymentParams(ecpay.PaymentOrder{
		MerchantID:     creds.MerchantID,
		TradeNo:        t.TradeNo,
		TradeDate:      s.now(),
		Amount:         t.Amount,
		ItemName:       t.ItemName,
		ReturnURL:      gatewayPath(s.gateway, WebhookPath),
		ClientBackURL:  m.SuccessURL,
		OrderResultURL: gatewayPath(s.gateway, ResultPath),
	})
	checkmac.SignInto(params, creds.HashKey, creds.HashIV, checkmac.Payment)

	return ecpay.Form{
		Title:  "Redirecting to payment...",
		Action: s.processor.Endpoints(m.Staging()).Checkout,
		Fields: params,
	}, nil
}

// HandleCallback applies a processor payment notification. It is safe under
// duplicate and concurrent delivery: the status update is conditional on the
// row still being pending, and only the winner publishes a settlement intent.
func (s *PaymentService) HandleCallback(ctx context.Context, params map[string]string, sourceIP string) error {
	tradeNo := params["MerchantTradeNo"]
	t, err := s.txns.GetByTradeNo(ctx, tradeNo)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("payment", "not_found").Inc()
		s.log.Warn("payment callback for unknown trade", "trade_no", tradeNo)
		return notFound(err, "transaction", tradeNo)
	}

	if t.Status.Terminal() {
		metrics.CallbacksTotal.WithLabelValues("payment", "duplicate").Inc()
		s.log.Info("duplicate payment callback ignored", "trade_no", tradeNo, "status", t.Status)
		return nil
	}

	m, err := s.merchants.GetByID(ctx, t.MerchantID)
	if err != nil {
		return notFound(err, "merchant", t.MerchantID)
	}
	creds, err := credentials(s.vault, m)
	if err != nil {
		metrics.CallbacksTotal.WithLabelValues("payment", "error").Inc()
		s.log.Error("payment callback credentials", "trade_no", tradeNo, "err", err)
		return err
	}

	valid := checkmac.Verify(params, creds.HashKey, creds.HashIV, checkmac.Payment)
	logID, err := s.hooks.Create(ctx, models.WebhookLog{
		MerchantID:    m.ID,
		EntityID:      t.ID,
		Kind:          models.WebhookPayment,
		SourceIP:      sourceIP,
		RawBody:       models.RawParams(params),
		CheckMacValid: valid,
	})
	if err != nil {
		s.log.Warn("webhook log write failed", "trade_no", tradeNo, "err", err)
	}
	if !valid {
		metrics.SignatureFailures.WithLabelValues("payment").Inc()
		metrics.CallbacksTotal.WithLabelValues("payment", "bad_signature").Inc()
		s.log.Warn("payment callback signature mismatch", "trade_no", tradeNo, "ip", sourceIP)
		return fmt.Errorf("%w: payment callback %s", apperr.ErrSignature, tradeNo)
	}

	authorized := ecpay.PaymentSucceeded(params["RtnCode"])
	ev := models.EventFail
	if authorized {
		ev = models.EventAuthorize
	}
	next, err := t.Status.Apply(ev)
	if err != nil {
		return err
	}

	p := models.TransactionPatch{
		IfStatus:    models.Ptr(t.Status),
		PaymentType: nonEmpty(params["PaymentType"]),
		ProcessorNo: nonEmpty(params["TradeNo"]),
		Response:    models.RawParams(params),
	}
	p.Stamp(next, s.now())
	if authorized {
		p.CardLast4 = nonEmpty(params["card4no"])
		p.AuthCode = nonEmpty(params["auth_code"])
	} else {
		p.ErrorCode = nonEmpty(params["RtnCode"])
		p.ErrorMessage = nonEmpty(params["RtnMsg"])
	}

	won, err := s.txns.UpdateFields(ctx, t.ID, p)
	if err != nil {
		return err
	}
	if !won {
		// a concurrent delivery got there first and owns the side effects
		metrics.CallbacksTotal.WithLabelValues("payment", "duplicate").Inc()
		s.markProcessed(ctx, logID, "duplicate")
		return nil
	}

	result := "success"
	if !authorized {
		result = "failed"
	}
	s.markProcessed(ctx, logID, result)
	metrics.CallbacksTotal.WithLabelValues("payment", "applied").Inc()
	metrics.Transitions.WithLabelValues("transaction", string(next)).Inc()
	audit(ctx, s.audit, s.log, "transaction", t.ID, "status_change", map[string]any{"from": t.Status, "to": next, "rtn_code": params["RtnCode"]})
	s.log.Info("payment callback applied", "trade_no", tradeNo, "status", next)

	if !s.pub.Submit(SettlementIntent{TransactionID: t.ID, Status: next}) {
		s.log.Error("settlement intent dropped", "trade_no", tradeNo, "status", next)
	}
	return nil
}

func (s *PaymentService) markProcessed(ctx context.Context, logID, result string) {
	if logID == "" {
		return
	}
	if err := s.hooks.MarkProcessed(ctx, logID, result); err != nil {
		s.log.Warn("webhook log update failed", "id", logID, "err", err)
	}
}

// resultKeys are forwarded from the processor's browser POST to the merchant.
var resultKeys = []string{"MerchantTradeNo", "RtnCode", "RtnMsg", "TradeNo", "TradeAmt", "PaymentDate", "PaymentType"}

// ResultRedirect turns the processor's OrderResultURL POST into a GET URL
// on the merchant side.
func (s *PaymentService) ResultRedirect(ctx context.Context, params map[string]string) string {
	target := "/"
	if t, err := s.txns.GetByTradeNo(ctx, params["MerchantTradeNo"]); err == nil {
		if t.ReturnURL != "" {
			target = t.ReturnURL
		} else if m, err := s.merchants.GetByID(ctx, t.MerchantID); err == nil && m.SuccessURL != "" {
			target = m.SuccessURL
		}
	}

	q := url.Values{}
	for _, k := range resultKeys {
		q.Set(k, params[k])
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + q.Encode()
}

// Get returns a transaction owned by merchantID, with expiry folded into Status.
func (s *PaymentService) Get(ctx context.Context, merchantID, id string) (models.Transaction, error) {
	t, err := s.txns.GetByID(ctx, id)
	if err != nil || t.MerchantID != merchantID {
		return models.Transaction{}, apperr.NotFound("transaction", id)
	}
	t.Status = t.EffectiveStatus(s.now())
	return t, nil
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (s *PaymentService) List(ctx context.Context, f models.TransactionFilter) ([]models.Transaction, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	out, err := s.txns.List(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range out {
		out[i].Status = out[i].EffectiveStatus(now)
	}
	if out == nil {
		out = []models.Transaction{}
	}
	return out, nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
