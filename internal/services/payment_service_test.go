package services

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/baharkarakas/paygate/internal/apperr"
	"github.com/baharkarakas/paygate/internal/checkmac"
	"github.com/baharkarakas/paygate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCheckout(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	co, err := f.payments.Create(ctx, f.merchant, CheckoutRequest{Amount: 1500, ItemName: "Mug", OrderRef: "cart_01"})
	require.NoError(t, err)
	assert.Equal(t, models.TxnPending, co.Transaction.Status)
	assert.Equal(t, "TWD", co.Transaction.Currency)
	assert.Len(t, co.Transaction.TradeNo, 18)
	assert.Equal(t, f.clock.Now().Add(models.TransactionTTL), co.Transaction.ExpiresAt)
	assert.Equal(t, testGateway+CheckoutPagePath+co.Transaction.TradeNo, co.CheckoutURL)

	_, err = f.payments.Create(ctx, f.merchant, CheckoutRequest{Amount: 0, ItemName: " "})
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Fields, 2)
}

func TestRenderRedirect(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	txn := f.checkout(t, CheckoutRequest{Amount: 1000})

	form, err := f.payments.RenderRedirect(ctx, txn.TradeNo)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(form.Action, "/checkout"))
	assert.Equal(t, txn.TradeNo, form.Fields["MerchantTradeNo"])
	assert.Equal(t, testMerchantID, form.Fields["MerchantID"])
	assert.Equal(t, testGateway+WebhookPath, form.Fields["ReturnURL"])
	assert.Equal(t, testGateway+ResultPath, form.Fields["OrderResultURL"])
	assert.Equal(t, f.merchant.SuccessURL, form.Fields["ClientBackURL"])
	assert.True(t, checkmac.Verify(form.Fields, testHashKey, testHashIV, checkmac.Payment))

	_, err = f.payments.RenderRedirect(ctx, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	f.clock.Advance(models.TransactionTTL + time.Second)
	_, err = f.payments.RenderRedirect(ctx, txn.TradeNo)
	assert.ErrorIs(t, err, apperr.ErrExpired)
}

func TestPaymentCallbackAuthorizes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	txn := f.checkout(t, CheckoutRequest{})

	require.NoError(t, f.payments.HandleCallback(ctx, paymentCallback(txn.TradeNo, "1"), "10.0.0.1"))

	got, err := f.payments.Get(ctx, f.merchant.ID, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnAuthorized, got.Status)
	require.NotNil(t, got.AuthorizedAt)
	require.NotNil(t, got.CardLast4)
	assert.Equal(t, "4242", *got.CardLast4)
	assert.Equal(t, "777777", *got.AuthCode)
	assert.Equal(t, "Credit_CreditCard", *got.PaymentType)
	assert.Equal(t, "2506011000001234", *got.ProcessorNo)

	assert.Equal(t, []SettlementIntent{{TransactionID: txn.ID, Status: models.TxnAuthorized}}, f.pub.Intents())

	hooks := f.store.Webhooks()
	require.Len(t, hooks, 1)
	assert.True(t, hooks[0].CheckMacValid)
	assert.True(t, hooks[0].Processed)
	assert.Equal(t, "success", hooks[0].ProcessResult)
	assert.Equal(t, "10.0.0.1", hooks[0].SourceIP)
}

func TestPaymentCallbackFailure(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	txn := f.checkout(t, CheckoutRequest{})

	params := paymentCallback(txn.TradeNo, "10100058")
	require.NoError(t, f.payments.HandleCallback(ctx, params, ""))

	got, err := f.payments.Get(ctx, f.merchant.ID, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnFailed, got.Status)
	require.NotNil(t, got.ErrorCode)
	assert.Equal(t, "10100058", *got.ErrorCode)
	assert.Nil(t, got.CardLast4)
	assert.Equal(t, []SettlementIntent{{TransactionID: txn.ID, Status: models.TxnFailed}}, f.pub.Intents())

	// a later success does not resurrect a failed payment
	require.NoError(t, f.payments.HandleCallback(ctx, paymentCallback(txn.TradeNo, "1"), ""))
	got, _ = f.payments.Get(ctx, f.merchant.ID, txn.ID)
	assert.Equal(t, models.TxnFailed, got.Status)
	assert.Len(t, f.pub.Intents(), 1)
}

func TestPaymentCallbackRejectsBadSignature(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	txn := f.checkout(t, CheckoutRequest{})

	params := paymentCallback(txn.TradeNo, "1")
	params["TradeAmt"] = "1"
	err := f.payments.HandleCallback(ctx, params, "10.0.0.9")
	assert.ErrorIs(t, err, apperr.ErrSignature)

	got, _ := f.payments.Get(ctx, f.merchant.ID, txn.ID)
	assert.Equal(t, models.TxnPending, got.Status)
	assert.Empty(t, f.pub.Intents())

	hooks := f.store.Webhooks()
	require.Len(t, hooks, 1)
	assert.False(t, hooks[0].CheckMacValid)
	assert.False(t, hooks[0].Processed)
}

func TestPaymentCallbackUnknownTrade(t *testing.T) {
	f := newFixture(t, nil)
	err := f.payments.HandleCallback(context.Background(), paymentCallback("NOPE", "1"), "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, f.store.Webhooks())
}

func TestPaymentCallbackDuplicateDeliveryDispatchesOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	txn := f.checkout(t, CheckoutRequest{})
	params := paymentCallback(txn.TradeNo, "1")

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.payments.HandleCallback(ctx, params, "")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	require.NoError(t, f.payments.HandleCallback(ctx, params, ""))

	assert.Len(t, f.pub.Intents(), 1)
	got, _ := f.payments.Get(ctx, f.merchant.ID, txn.ID)
	assert.Equal(t, models.TxnAuthorized, got.Status)
}

func TestExpiredStatusIsDerived(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	txn := f.checkout(t, CheckoutRequest{})

	f.clock.Advance(models.TransactionTTL + time.Minute)
	got, err := f.payments.Get(ctx, f.merchant.ID, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnExpired, got.Status)

	stored, err := f.set.Transactions.GetByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxnPending, stored.Status)

	list, err := f.payments.List(ctx, models.TransactionFilter{MerchantID: f.merchant.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.TxnExpired, list[0].Status)
}

func TestGetHidesOtherMerchantsTransactions(t *testing.T) {
	f := newFixture(t, nil)
	txn := f.checkout(t, CheckoutRequest{})
	_, err := f.payments.Get(context.Background(), "someone-else", txn.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListClampsPaging(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.checkout(t, CheckoutRequest{OrderRef: "cart_a"})
	}
	f.checkout(t, CheckoutRequest{OrderRef: "cart_b"})

	all, err := f.payments.List(ctx, models.TransactionFilter{MerchantID: f.merchant.ID, Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	byRef, err := f.payments.List(ctx, models.TransactionFilter{MerchantID: f.merchant.ID, OrderRef: "cart_a", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, byRef, 2)

	none, err := f.payments.List(ctx, models.TransactionFilter{MerchantID: "other"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestResultRedirect(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	withReturn := f.checkout(t, CheckoutRequest{ReturnURL: "https://shop.example.com/done?step=3"})
	plain := f.checkout(t, CheckoutRequest{})

	target := f.payments.ResultRedirect(ctx, map[string]string{"MerchantTradeNo": withReturn.TradeNo, "RtnCode": "1"})
	u, err := url.Parse(target)
	require.NoError(t, err)
	assert.Equal(t, "/done", u.Path)
	assert.Equal(t, "3", u.Query().Get("step"))
	assert.Equal(t, "1", u.Query().Get("RtnCode"))
	assert.Equal(t, withReturn.TradeNo, u.Query().Get("MerchantTradeNo"))

	target = f.payments.ResultRedirect(ctx, map[string]string{"MerchantTradeNo": plain.TradeNo})
	assert.True(t, strings.HasPrefix(target, f.merchant.SuccessURL+"?"))

	assert.True(t, strings.HasPrefix(f.payments.ResultRedirect(ctx, map[string]string{}), "/?"))
}
