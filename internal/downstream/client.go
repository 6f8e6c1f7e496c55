// Package downstream calls the commerce backend and merchant webhooks after
// a payment settles. Every call is a single attempt bounded by the client timeout.
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/baharkarakas/paygate/internal/apperr"
	"github.com/baharkarakas/paygate/internal/config"
)

type Client struct {
	hc  *http.Client
	cfg config.Commerce
}

func New(cfg config.Commerce, timeout time.Duration) *Client {
	return &Client{hc: &http.Client{Timeout: timeout}, cfg: cfg}
}

// Backend resolves the commerce backend for a merchant, falling back to the
// process-wide one.
func (c *Client) Backend(merchantURL, merchantKey string) (base, key string) {
	base, key = merchantURL, merchantKey
	if base == "" {
		base = c.cfg.BackendURL
	}
	if key == "" {
		key = c.cfg.PublishableKey
	}
	return strings.TrimRight(base, "/"), key
}

// CanCapture reports whether admin credentials for capture are configured.
func (c *Client) CanCapture() bool { return c.cfg.AdminEmail != "" && c.cfg.AdminPassword != "" }

type CartResult struct {
	OrderID   string
	PaymentID string
}

type cartReply struct {
	Type  string `json:"type"`
	Order struct {
		ID                 string `json:"id"`
		PaymentCollections []struct {
			Payments []struct {
				ID string `json:"id"`
			} `json:"payments"`
		} `json:"payment_collections"`
	} `json:"order"`
	Error json.RawMessage `json:"error"`
}

// CompleteCart turns a cart into an order.
func (c *Client) CompleteCart(ctx context.Context, base, publishableKey, cartID string) (CartResult, error) {
	var out cartReply
	endpoint := base + "/store/carts/" + url.PathEscape(cartID) + "/complete"
	err := c.postJSON(ctx, "complete cart", endpoint, map[string]string{"x-publishable-api-key": publishableKey}, nil, &out)
	if err != nil {
		return CartResult{}, err
	}
	if out.Type != "order" {
		return CartResult{}, apperr.Upstream("complete cart", fmt.Errorf("reply type %q: %s", out.Type, string(out.Error)))
	}
	res := CartResult{OrderID: out.Order.ID}
	for _, pc := range out.Order.PaymentCollections {
		if len(pc.Payments) > 0 {
			res.PaymentID = pc.Payments[0].ID
			break
		}
	}
	return res, nil
}

// AdminToken exchanges the configured admin credentials for a bearer token.
func (c *Client) AdminToken(ctx context.Context, base string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	in := map[string]string{"email": c.cfg.AdminEmail, "password": c.cfg.AdminPassword}
	if err := c.postJSON(ctx, "admin token", base+"/auth/user/emailpass", nil, in, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", apperr.Upstream("admin token", fmt.Errorf("empty token"))
	}
	return out.Token, nil
}

func (c *Client) CapturePayment(ctx context.Context, base, token, paymentID string) error {
	endpoint := base + "/admin/payments/" + url.PathEscape(paymentID) + "/capture"
	return c.postJSON(ctx, "capture payment", endpoint, map[string]string{"Authorization": "Bearer " + token}, map[string]any{}, nil)
}

type TierUpdate struct {
	OrderID       string `json:"order_id"`
	CustomerEmail string `json:"customer_email,omitempty"`
	Amount        int64  `json:"amount"`
	TradeNo       string `json:"merchant_trade_no"`
}

// UpdateTier is a no-op when no tier endpoint is configured.
func (c *Client) UpdateTier(ctx context.Context, u TierUpdate) error {
	if c.cfg.TierUpdateURL == "" {
		return nil
	}
	return c.postJSON(ctx, "tier update", c.cfg.TierUpdateURL, nil, u, nil)
}

// MerchantEvent is the body posted to a merchant's webhook_url.
type MerchantEvent struct {
	Event         string `json:"event"`
	TransactionID string `json:"transaction_id"`
	TradeNo       string `json:"merchant_trade_no"`
	OrderID       string `json:"order_id,omitempty"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
}

func (c *Client) NotifyMerchant(ctx context.Context, webhookURL string, ev MerchantEvent) error {
	return c.postJSON(ctx, "notify merchant", webhookURL, nil, ev, nil)
}

func (c *Client) postJSON(ctx context.Context, op, endpoint string, headers map[string]string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return apperr.Upstream(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return apperr.Upstream(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Upstream(op, err)
	}
	if resp.StatusCode >= 300 {
		return apperr.Upstream(op, fmt.Errorf("status %d: %.200s", resp.StatusCode, raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperr.Upstream(op, fmt.Errorf("non-JSON reply: %.200s", raw))
		}
	}
	return nil
}

// CartID repairs the doubled prefix some storefronts send.
func CartID(orderRef string) string {
	if strings.HasPrefix(orderRef, "cart_cart_") {
		return strings.TrimPrefix(orderRef, "cart_")
	}
	return orderRef
}
