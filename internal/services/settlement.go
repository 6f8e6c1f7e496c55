package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/baharkarakas/paygate/internal/apperr"
	"github.com/baharkarakas/paygate/internal/downstream"
	"github.com/baharkarakas/paygate/internal/metrics"
	"github.com/baharkarakas/paygate/internal/models"
	repo "github.com/baharkarakas/paygate/internal/repository"
)

// SettlementIntent is published once per resolved payment callback.
type SettlementIntent struct {
	TransactionID string
	Status        models.TransactionStatus // authorized or failed
}

// Settler runs the downstream side effects of a resolved payment. Every
// step is a single best-effort attempt: failures are logged and counted,
// never retried, and never move a transaction backwards.
type Settler struct {
	merchants repo.Merchants
	txns      repo.Transactions
	hooks     repo.WebhookLogs
	audit     repo.AuditLogs
	commerce  *downstream.Client
	timeout   time.Duration
	log       *slog.Logger
	now       Clock
}

func NewSettler(r repo.Set, dc *downstream.Client, timeout time.Duration, log *slog.Logger) *Settler {
	return &Settler{
		merchants: r.Merchants,
		txns:      r.Transactions,
		hooks:     r.WebhookLogs,
		audit:     r.AuditLogs,
		commerce:  dc,
		timeout:   timeout,
		log:       log.With("component", "settlement"),
		now:       time.Now,
	}
}

func (s *Settler) WithClock(c Clock) *Settler { s.now = c; return s }

// Handle is the worker entry point.
func (s *Settler) Handle(in SettlementIntent) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*s.timeout)
	defer cancel()

	t, err := s.txns.GetByID(ctx, in.TransactionID)
	if err != nil {
		s.log.Error("settlement: load transaction", "id", in.TransactionID, "err", err)
		return
	}
	m, err := s.merchants.GetByID(ctx, t.MerchantID)
	if err != nil {
		s.log.Error("settlement: load merchant", "id", t.MerchantID, "err", err)
		return
	}

	if in.Status == models.TxnAuthorized {
		t = s.completeCart(ctx, m, t)
		if t.DownstreamPaymentID != nil && s.commerce.CanCapture() {
			if captured, err := s.Capture(ctx, t.ID); err == nil {
				t = captured
				t = s.complete(ctx, t)
			}
		}
		s.updateTier(ctx, t)
	}
	s.notify(ctx, m, t, in.Status)
}

func (s *Settler) completeCart(ctx context.Context, m models.Merchant, t models.Transaction) models.Transaction {
	if t.OrderRef == "" || t.OrderCompletedAt != nil {
		return t
	}
	base, key := s.commerce.Backend(m.CommerceURL, m.CommerceKey)
	if base == "" || key == "" {
		s.step("complete_cart", "skipped")
		return t
	}
	cartID := downstream.CartID(t.OrderRef)
	res, err := s.commerce.CompleteCart(ctx, base, key, cartID)
	if err != nil {
		s.step("complete_cart", "error")
		s.log.Error("cart completion failed", "trade_no", t.TradeNo, "cart", cartID, "err", err)
		return t
	}
	s.step("complete_cart", "ok")

	p := models.TransactionPatch{
		DownstreamOrderID:   nonEmpty(res.OrderID),
		DownstreamPaymentID: nonEmpty(res.PaymentID),
		OrderCompletedAt:    models.Ptr(s.now()),
	}
	if _, err := s.txns.UpdateFields(ctx, t.ID, p); err != nil {
		s.log.Error("record downstream order", "trade_no", t.TradeNo, "err", err)
		return t
	}
	p.ApplyTo(&t)
	s.log.Info("downstream order created", "trade_no", t.TradeNo, "order", res.OrderID)
	return t
}

// Capture moves an authorized transaction to captured after the commerce
// backend settles the payment. Already captured or completed transactions
// are returned unchanged. A downstream failure leaves it authorized.
func (s *Settler) Capture(ctx context.Context, id string) (models.Transaction, error) {
	t, err := s.txns.GetByID(ctx, id)
	if err != nil {
		return models.Transaction{}, notFound(err, "transaction", id)
	}
	if t.Status == models.TxnCaptured || t.Status == models.TxnCompleted {
		return t, nil
	}
	next, err := t.Status.Apply(models.EventCapture)
	if err != nil {
		return t, err
	}
	if t.DownstreamPaymentID == nil {
		return t, fmt.Errorf("%w: transaction %s has no downstream payment", apperr.ErrConflict, t.TradeNo)
	}
	if !s.commerce.CanCapture() {
		return t, apperr.Upstream("capture payment", fmt.Errorf("commerce admin credentials not configured"))
	}
	m, err := s.merchants.GetByID(ctx, t.MerchantID)
	if err != nil {
		return t, notFound(err, "merchant", t.MerchantID)
	}

	base, _ := s.commerce.Backend(m.CommerceURL, m.CommerceKey)
	token, err := s.commerce.AdminToken(ctx, base)
	if err == nil {
		err = s.commerce.CapturePayment(ctx, base, token, *t.DownstreamPaymentID)
	}
	if err != nil {
		s.step("capture", "error")
		s.log.Error("capture failed; transaction stays authorized", "trade_no", t.TradeNo, "err", err)
		return t, err
	}
	s.step("capture", "ok")

	p := models.TransactionPatch{IfStatus: models.Ptr(models.TxnAuthorized)}
	p.Stamp(next, s.now())
	won, err := s.txns.UpdateFields(ctx, t.ID, p)
	if err != nil {
		return t, err
	}
	if won {
		metrics.Transitions.WithLabelValues("transaction", string(next)).Inc()
		audit(ctx, s.audit, s.log, "transaction", t.ID, "status_change", map[string]any{"from": t.Status, "to": next})
	}
	return s.txns.GetByID(ctx, t.ID)
}

func (s *Settler) complete(ctx context.Context, t models.Transaction) models.Transaction {
	if t.Status != models.TxnCaptured || t.OrderCompletedAt == nil {
		return t
	}
	next, err := t.Status.Apply(models.EventComplete)
	if err != nil {
		return t
	}
	p := models.TransactionPatch{IfStatus: models.Ptr(t.Status)}
	p.Stamp(next, s.now())
	won, err := s.txns.UpdateFields(ctx, t.ID, p)
	if err != nil || !won {
		return t
	}
	metrics.Transitions.WithLabelValues("transaction", string(next)).Inc()
	audit(ctx, s.audit, s.log, "transaction", t.ID, "status_change", map[string]any{"from": t.Status, "to": next})
	p.ApplyTo(&t)
	return t
}

func (s *Settler) updateTier(ctx context.Context, t models.Transaction) {
	orderID := t.OrderRef
	if t.DownstreamOrderID != nil {
		orderID = *t.DownstreamOrderID
	}
	if orderID == "" {
		return
	}
	err := s.commerce.UpdateTier(ctx, downstream.TierUpdate{
		OrderID:       orderID,
		CustomerEmail: t.CustomerEmail,
		Amount:        t.Amount,
		TradeNo:       t.TradeNo,
	})
	if err != nil {
		s.step("tier_update", "error")
		s.log.Error("tier update failed", "trade_no", t.TradeNo, "err", err)
		return
	}
	s.step("tier_update", "ok")
}

func (s *Settler) notify(ctx context.Context, m models.Merchant, t models.Transaction, status models.TransactionStatus) {
	if m.WebhookURL == "" {
		return
	}
	err := s.commerce.NotifyMerchant(ctx, m.WebhookURL, downstream.MerchantEvent{
		Event:         "payment.completed",
		TransactionID: t.ID,
		TradeNo:       t.TradeNo,
		OrderID:       t.OrderRef,
		Status:        string(status),
		Amount:        t.Amount,
	})
	if err != nil {
		s.step("notify_merchant", "error")
		s.log.Error("merchant notification failed", "trade_no", t.TradeNo, "merchant", m.Code, "err", err)
		return
	}
	s.step("notify_merchant", "ok")
	if err := s.hooks.MarkNotified(ctx, models.WebhookPayment, t.ID); err != nil {
		s.log.Warn("mark webhook notified", "trade_no", t.TradeNo, "err", err)
	}
}

func (s *Settler) step(name, result string) { metrics.SideEffects.WithLabelValues(name, result).Inc() }
