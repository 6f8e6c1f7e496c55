package services

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/baharkarakas/paygate/internal/checkmac"
	"github.com/baharkarakas/paygate/internal/config"
	"github.com/baharkarakas/paygate/internal/ecpay"
	"github.com/baharkarakas/paygate/internal/logger"
	"github.com/baharkarakas/paygate/internal/models"
	repo "github.com/baharkarakas/paygate/internal/repository"
	"github.com/baharkarakas/paygate/internal/repository/memory"
	"github.com/baharkarakas/paygate/internal/vault"
	"github.com/stretchr/testify/require"
)

const (
	testGateway    = "https://gw.example.com"
	testMerchantID = "3002607"
	testHashKey    = "pwFHCqoQZGmho4w6"
	testHashIV     = "EkRm7iFT261dpevs"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// publisher records intents instead of running them.
type publisher struct {
	mu      sync.Mutex
	intents []SettlementIntent
}

func (p *publisher) Submit(in SettlementIntent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intents = append(p.intents, in)
	return true
}

func (p *publisher) Intents() []SettlementIntent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SettlementIntent(nil), p.intents...)
}

type fixture struct {
	store     *memory.Store
	set       repo.Set
	vault     *vault.Vault
	clock     *clock
	pub       *publisher
	processor *ecpay.Client
	merchant  models.Merchant
	apiKey    string

	merchants *MerchantService
	payments  *PaymentService
	logistics *LogisticsService
}

// newFixture wires every service to an in-memory store and a processor
// served by handler (nil means every processor call fails with 503).
func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	if handler == nil {
		handler = func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusServiceUnavailable) }
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ep := config.Endpoints{
		Checkout:     srv.URL + "/checkout",
		QueryTrade:   srv.URL + "/query-trade",
		LogisticsMap: srv.URL + "/map",
		Create:       srv.URL + "/create",
		QueryShip:    srv.URL + "/query-ship",
	}
	v, err := vault.NewFromBytes(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	f := &fixture{
		store:     memory.New(),
		vault:     v,
		clock:     &clock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		pub:       &publisher{},
		processor: ecpay.NewClient(config.Processor{Staging: ep, Production: ep}, 2*time.Second),
	}
	f.set = f.store.Set()
	log := logger.Discard()
	f.merchants = NewMerchantService(f.set, v, f.processor, log).WithClock(f.clock.Now)
	f.payments = NewPaymentService(f.set, v, f.processor, testGateway, f.pub, log).WithClock(f.clock.Now)
	f.logistics = NewLogisticsService(f.set, v, f.processor, testGateway, log).WithClock(f.clock.Now)

	f.merchant, f.apiKey, err = f.merchants.Create(context.Background(), NewMerchant{
		Code:       "shop",
		Name:       "Test Shop",
		SuccessURL: "https://shop.example.com/thanks",
		FailureURL: "https://shop.example.com/oops",
		Credentials: models.Credentials{
			MerchantID: testMerchantID, HashKey: testHashKey, HashIV: testHashIV, Environment: models.EnvStaging,
		},
	}, "127.0.0.1")
	require.NoError(t, err)
	return f
}

func signed(params map[string]string, p checkmac.Profile) map[string]string {
	return checkmac.SignInto(params, testHashKey, testHashIV, p)
}

func (f *fixture) checkout(t *testing.T, req CheckoutRequest) models.Transaction {
	t.Helper()
	if req.Amount == 0 {
		req.Amount = 1000
	}
	if req.ItemName == "" {
		req.ItemName = "T-shirt"
	}
	co, err := f.payments.Create(context.Background(), f.merchant, req)
	require.NoError(t, err)
	return co.Transaction
}

func paymentCallback(tradeNo, rtnCode string) map[string]string {
	return signed(map[string]string{
		"MerchantID":      testMerchantID,
		"MerchantTradeNo": tradeNo,
		"RtnCode":         rtnCode,
		"RtnMsg":          "交易成功",
		"TradeNo":         "2506011000001234",
		"TradeAmt":        "1000",
		"PaymentType":     "Credit_CreditCard",
		"PaymentDate":     "2025/06/01 10:05:00",
		"card4no":         "4242",
		"auth_code":       "777777",
	}, checkmac.Payment)
}
