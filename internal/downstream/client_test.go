package downstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/baharkarakas/paygate/internal/apperr"
	"github.com/baharkarakas/paygate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartID(t *testing.T) {
	assert.Equal(t, "cart_01H", CartID("cart_cart_01H"))
	assert.Equal(t, "cart_01H", CartID("cart_01H"))
	assert.Equal(t, "order-7", CartID("order-7"))
}

func TestCompleteCartAndCapture(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/store/carts/cart_1/complete", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pk_test", r.Header.Get("x-publishable-api-key"))
		_, _ = io.WriteString(w, `{"type":"order","order":{"id":"order_9","payment_collections":[{"payments":[{"id":"pay_3"}]}]}}`)
	})
	mux.HandleFunc("/auth/user/emailpass", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "ops@example.com", in["email"])
		_, _ = io.WriteString(w, `{"token":"tok"}`)
	})
	mux.HandleFunc("/admin/payments/pay_3/capture", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(config.Commerce{BackendURL: srv.URL, PublishableKey: "pk_test", AdminEmail: "ops@example.com", AdminPassword: "pw"}, time.Second)
	base, key := c.Backend("", "")
	assert.Equal(t, srv.URL, base)
	assert.True(t, c.CanCapture())

	res, err := c.CompleteCart(context.Background(), base, key, "cart_1")
	require.NoError(t, err)
	assert.Equal(t, CartResult{OrderID: "order_9", PaymentID: "pay_3"}, res)

	tok, err := c.AdminToken(context.Background(), base)
	require.NoError(t, err)
	require.NoError(t, c.CapturePayment(context.Background(), base, tok, res.PaymentID))
}

func TestCompleteCartRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"type":"cart","error":{"message":"payment not authorized"}}`)
	}))
	defer srv.Close()

	c := New(config.Commerce{}, time.Second)
	_, err := c.CompleteCart(context.Background(), srv.URL, "k", "cart_1")
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Contains(t, err.Error(), "payment not authorized")
}

func TestNotifyMerchantNon2xx(t *testing.T) {
	var got MerchantEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(config.Commerce{}, time.Second)
	err := c.NotifyMerchant(context.Background(), srv.URL, MerchantEvent{Event: "payment.completed", Status: "failed", Amount: 500})
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Equal(t, "payment.completed", got.Event)
	assert.Equal(t, int64(500), got.Amount)

	assert.NoError(t, c.UpdateTier(context.Background(), TierUpdate{}), "unconfigured tier endpoint is skipped")
}
