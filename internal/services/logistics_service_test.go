package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/baharkarakas/paygate/internal/apperr"
	"github.com/baharkarakas/paygate/internal/checkmac"
	"github.com/baharkarakas/paygate/internal/logger"
	"github.com/baharkarakas/paygate/internal/models"
	repo "github.com/baharkarakas/paygate/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formMap(r *http.Request) map[string]string {
	_ = r.ParseForm()
	out := map[string]string{}
	for k := range r.PostForm {
		out[k] = r.PostForm.Get(k)
	}
	return out
}

func createReply(tradeNo, code string) string {
	return fmt.Sprintf("1|AllPayLogisticsID=1718546&CVSPaymentNo=C9876543&CVSValidationNo=1234&MerchantTradeNo=%s&RtnCode=%s&RtnMsg=OK", tradeNo, code)
}

func statusCallback(tradeNo, code string) map[string]string {
	return signed(map[string]string{
		"MerchantID":        testMerchantID,
		"MerchantTradeNo":   tradeNo,
		"RtnCode":           code,
		"RtnMsg":            "status " + code,
		"AllPayLogisticsID": "1718546",
		"LogisticsSubType":  "UNIMARTC2C",
		"GoodsAmount":       "300",
	}, checkmac.Logistics)
}

// pickStore runs the map round trip and returns the temp trade number.
func (f *fixture) pickStore(t *testing.T, returnURL string, collect bool) string {
	t.Helper()
	ctx := context.Background()
	_, temp, err := f.logistics.CvsMap(ctx, f.merchant, CvsMapRequest{SubType: "UNIMART", IsCollection: collect, ReturnURL: returnURL})
	require.NoError(t, err)
	_, err = f.logistics.StoreSelection(ctx, f.merchant.Code, map[string]string{
		"ExtraData":        temp,
		"CVSStoreID":       "131386",
		"CVSStoreName":     "建盛門市",
		"CVSAddress":       "台北市中正區",
		"LogisticsSubType": "UNIMARTC2C",
	})
	require.NoError(t, err)
	return temp
}

func shipmentRequest(temp string) ShipmentRequest {
	return ShipmentRequest{
		OrderRef:      "order_1",
		TempTradeNo:   temp,
		ReceiverName:  "王小明",
		ReceiverPhone: "0912345678",
		SenderName:    "Shop",
		SenderPhone:   "0223456789",
		GoodsName:     "Mug",
		GoodsAmount:   300,
	}
}

func TestCvsMapForm(t *testing.T) {
	f := newFixture(t, nil)
	form, temp, err := f.logistics.CvsMap(context.Background(), f.merchant, CvsMapRequest{SubType: "fami", IsCollection: true})
	require.NoError(t, err)
	assert.NotEmpty(t, temp)
	assert.Equal(t, temp, form.Fields["ExtraData"])
	assert.Equal(t, "FAMIC2C", form.Fields["LogisticsSubType"])
	assert.Equal(t, "Y", form.Fields["IsCollection"])
	assert.Equal(t, testGateway+CvsMapCallbackPath+"?merchant=shop", form.Fields["ServerReplyURL"])

	sel, err := f.set.CvsSelections.GetByTempTradeNo(context.Background(), f.merchant.ID, temp)
	require.NoError(t, err)
	assert.True(t, sel.IsCollection)
	assert.Equal(t, models.SubTypeFamily, sel.SubType)
}

func TestStoreSelectionRedirect(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, temp, err := f.logistics.CvsMap(ctx, f.merchant, CvsMapRequest{SubType: "UNIMART", IsCollection: true, ReturnURL: "https://shop.example.com/checkout?step=ship"})
	require.NoError(t, err)

	target, err := f.logistics.StoreSelection(ctx, f.merchant.Code, map[string]string{
		"ExtraData": temp, "CVSStoreID": "131386", "CVSStoreName": "建盛門市", "CVSAddress": "台北市", "LogisticsSubType": "UNIMARTC2C",
	})
	require.NoError(t, err)
	u, err := url.Parse(target)
	require.NoError(t, err)
	assert.Equal(t, "/checkout", u.Path)
	q := u.Query()
	assert.Equal(t, "ship", q.Get("step"))
	assert.Equal(t, temp, q.Get("temp_trade_no"))
	assert.Equal(t, "131386", q.Get("store_id"))
	assert.Equal(t, "建盛門市", q.Get("store_name"))
	assert.Equal(t, "UNIMARTC2C", q.Get("logistics_sub_type"))

	sel, err := f.set.CvsSelections.GetByTempTradeNo(ctx, f.merchant.ID, temp)
	require.NoError(t, err)
	assert.True(t, sel.IsCollection)
	assert.Equal(t, "131386", sel.StoreID)

	_, err = f.logistics.StoreSelection(ctx, "ghost", map[string]string{"ExtraData": temp, "CVSStoreID": "1"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.logistics.StoreSelection(ctx, f.merchant.Code, map[string]string{"CVSStoreID": "1"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreateShipmentFromSelection(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		p := formMap(r)
		if !checkmac.Verify(p, testHashKey, testHashIV, checkmac.Logistics) {
			_, _ = w.Write([]byte("0|CheckMacValue Error"))
			return
		}
		_, _ = w.Write([]byte(createReply(p["MerchantTradeNo"], "300")))
	})
	ctx := context.Background()
	temp := f.pickStore(t, "", true)

	sh, err := f.logistics.CreateFromSelection(ctx, f.merchant, shipmentRequest(temp))
	require.NoError(t, err)
	assert.Equal(t, models.ShipCreated, sh.Status)
	assert.Equal(t, "131386", sh.StoreID)
	assert.Equal(t, models.SubTypeUnimart, sh.SubType)
	assert.True(t, sh.IsCollection)
	assert.Equal(t, int64(300), sh.CollectionAmt)
	require.NotNil(t, sh.LogisticsID)
	assert.Equal(t, "1718546", *sh.LogisticsID)
	assert.Equal(t, "C9876543", *sh.PaymentNo)

	sel, err := f.set.CvsSelections.GetByTempTradeNo(ctx, f.merchant.ID, temp)
	require.NoError(t, err)
	assert.True(t, sel.IsUsed)

	_, err = f.logistics.CreateFromSelection(ctx, f.merchant, shipmentRequest(temp))
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, int32(1), calls.Load())
}

func TestStoreSelectionReplayDoesNotReopenSelection(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(createReply(formMap(r)["MerchantTradeNo"], "300")))
	})
	ctx := context.Background()
	temp := f.pickStore(t, "", false)

	_, err := f.logistics.CreateFromSelection(ctx, f.merchant, shipmentRequest(temp))
	require.NoError(t, err)

	_, err = f.logistics.StoreSelection(ctx, f.merchant.Code, map[string]string{
		"ExtraData":        temp,
		"CVSStoreID":       "131386",
		"LogisticsSubType": "UNIMARTC2C",
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	_, _, err = f.logistics.CvsMap(ctx, f.merchant, CvsMapRequest{SubType: "UNIMART", TempTradeNo: temp})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.logistics.CreateFromSelection(ctx, f.merchant, shipmentRequest(temp))
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, int32(1), calls.Load())
}

// brokenShipments fails every insert with a non-duplicate error.
type brokenShipments struct{ repo.Shipments }

func (brokenShipments) Insert(context.Context, models.Shipment) (models.Shipment, error) {
	return models.Shipment{}, errors.New("connection reset")
}

func TestCreateShipmentInsertFailureKeepsSelection(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(createReply(formMap(r)["MerchantTradeNo"], "300")))
	})
	ctx := context.Background()
	temp := f.pickStore(t, "", false)

	broken := f.set
	broken.Shipments = brokenShipments{f.set.Shipments}
	failing := NewLogisticsService(broken, f.vault, f.processor, testGateway, logger.Discard()).WithClock(f.clock.Now)
	_, err := failing.CreateFromSelection(ctx, f.merchant, shipmentRequest(temp))
	require.Error(t, err)
	assert.Equal(t, int32(0), calls.Load())

	sel, err := f.set.CvsSelections.GetByTempTradeNo(ctx, f.merchant.ID, temp)
	require.NoError(t, err)
	assert.False(t, sel.IsUsed)

	sh, err := f.logistics.CreateFromSelection(ctx, f.merchant, shipmentRequest(temp))
	require.NoError(t, err)
	assert.Equal(t, models.ShipCreated, sh.Status)
}

func TestCreateShipmentValidation(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.logistics.CreateFromSelection(context.Background(), f.merchant, ShipmentRequest{})
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	fields := map[string]bool{}
	for _, fe := range ve.Fields {
		fields[fe.Field] = true
	}
	assert.True(t, fields["receiver_store_id"])
	assert.True(t, fields["logistics_sub_type"])
	assert.True(t, fields["receiver_name"])
	assert.True(t, fields["goods_amount"])

	_, err = f.logistics.CreateFromSelection(context.Background(), f.merchant, ShipmentRequest{TempTradeNo: "missing"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreateShipmentExpiredSelection(t *testing.T) {
	f := newFixture(t, nil)
	temp := f.pickStore(t, "", false)
	f.clock.Advance(models.CvsSelectionTTL * 2)
	_, err := f.logistics.CreateFromSelection(context.Background(), f.merchant, shipmentRequest(temp))
	assert.ErrorIs(t, err, apperr.ErrExpired)
}

func TestCreateShipmentRejected(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("0|ReceiverStoreID is invalid"))
	})
	sh, err := f.logistics.CreateFromSelection(context.Background(), f.merchant, ShipmentRequest{
		SubType: "UNIMART", StoreID: "000000", ReceiverName: "王小明", SenderPhone: "0223456789", GoodsAmount: 100,
	})
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Equal(t, models.ShipFailed, sh.Status)
	require.NotNil(t, sh.ErrorMessage)
	assert.Equal(t, "ReceiverStoreID is invalid", *sh.ErrorMessage)
	assert.Equal(t, "Test Shop", sh.SenderName)
}

func TestCreateShipmentUpstreamDown(t *testing.T) {
	f := newFixture(t, nil)
	sh, err := f.logistics.CreateFromSelection(context.Background(), f.merchant, ShipmentRequest{
		SubType: "HILIFE", StoreID: "000001", ReceiverName: "王小明", GoodsAmount: 100,
	})
	assert.ErrorIs(t, err, apperr.ErrUpstream)
	assert.Equal(t, models.ShipFailed, sh.Status)
	assert.NotEmpty(t, sh.TradeNo)

	stored, err := f.set.Shipments.GetByTradeNo(context.Background(), sh.TradeNo)
	require.NoError(t, err)
	assert.Equal(t, models.ShipFailed, stored.Status)
}

// The status callback can land before the create call returns; the late
// create reply must not pull the shipment back to created.
func TestStatusCallbackBeforeCreateReply(t *testing.T) {
	var f *fixture
	f = newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		p := formMap(r)
		err := f.logistics.HandleStatusCallback(r.Context(), statusCallback(p["MerchantTradeNo"], "2030"), "10.1.1.1")
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(createReply(p["MerchantTradeNo"], "300")))
	})

	sh, err := f.logistics.CreateFromSelection(context.Background(), f.merchant, ShipmentRequest{
		SubType: "UNIMART", StoreID: "131386", ReceiverName: "王小明", GoodsAmount: 300,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ShipShipping, sh.Status)
	require.NotNil(t, sh.ShippedAt)
	require.NotNil(t, sh.LogisticsID)

	got, err := f.logistics.Get(context.Background(), f.merchant.ID, sh.TradeNo)
	require.NoError(t, err)
	assert.Equal(t, models.ShipShipping, got.Status)
	assert.Equal(t, "300", *got.RtnCode)
}

func TestStatusCallbackProgression(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(createReply(formMap(r)["MerchantTradeNo"], "300")))
	})
	ctx := context.Background()
	sh, err := f.logistics.CreateFromSelection(ctx, f.merchant, ShipmentRequest{
		SubType: "UNIMART", StoreID: "131386", ReceiverName: "王小明", GoodsAmount: 300,
	})
	require.NoError(t, err)

	steps := []struct {
		code string
		want models.ShipmentStatus
	}{
		{"2030", models.ShipShipping},
		{"2030", models.ShipShipping},
		{"2063", models.ShipArrived},
		{"2067", models.ShipPickedUp},
		{"2074", models.ShipReturned},
	}
	for _, s := range steps {
		require.NoError(t, f.logistics.HandleStatusCallback(ctx, statusCallback(sh.TradeNo, s.code), ""), s.code)
		got, err := f.logistics.Get(ctx, f.merchant.ID, sh.TradeNo)
		require.NoError(t, err)
		assert.Equal(t, s.want, got.Status, "after %s", s.code)
		assert.Equal(t, s.code, *got.RtnCode, "snapshot after %s", s.code)
	}

	got, _ := f.logistics.Get(ctx, f.merchant.ID, sh.TradeNo)
	assert.NotNil(t, got.ArrivedAt)
	assert.NotNil(t, got.PickedUpAt)
	assert.NotNil(t, got.ReturnedAt)
}

func TestStatusCallbackOverridesStatus(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(createReply(formMap(r)["MerchantTradeNo"], "300")))
	})
	ctx := context.Background()
	sh, err := f.logistics.CreateFromSelection(ctx, f.merchant, ShipmentRequest{
		SubType: "UNIMART", StoreID: "131386", ReceiverName: "王小明", GoodsAmount: 300,
	})
	require.NoError(t, err)

	steps := []struct {
		code string
		want models.ShipmentStatus
	}{
		{"2030", models.ShipShipping},
		{"9000", models.ShipFailed},
		{"1234", models.ShipPending},
		{"2063", models.ShipArrived},
	}
	for _, s := range steps {
		require.NoError(t, f.logistics.HandleStatusCallback(ctx, statusCallback(sh.TradeNo, s.code), ""), s.code)
		got, err := f.logistics.Get(ctx, f.merchant.ID, sh.TradeNo)
		require.NoError(t, err)
		assert.Equal(t, s.want, got.Status, "after %s", s.code)
		if s.want == models.ShipFailed {
			require.NotNil(t, got.ErrorMessage)
			assert.Equal(t, "status 9000", *got.ErrorMessage)
		}
	}
}

func TestShipmentCreatedOnC2CCodeThenPickedUp(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		p := formMap(r)
		assert.Equal(t, "990011", p["ReceiverStoreID"])
		assert.Equal(t, "UNIMARTC2C", p["LogisticsSubType"])
		_, _ = w.Write([]byte(createReply(p["MerchantTradeNo"], "2001")))
	})
	ctx := context.Background()
	sh, err := f.logistics.CreateFromSelection(ctx, f.merchant, ShipmentRequest{
		SubType: "UNIMARTC2C", StoreID: "990011", ReceiverName: "王小明", GoodsAmount: 500,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ShipCreated, sh.Status)

	require.NoError(t, f.logistics.HandleStatusCallback(ctx, statusCallback(sh.TradeNo, "2067"), ""))
	got, err := f.logistics.Get(ctx, f.merchant.ID, sh.TradeNo)
	require.NoError(t, err)
	assert.Equal(t, models.ShipPickedUp, got.Status)
	assert.NotNil(t, got.PickedUpAt)
}

func TestStatusCallbackRejectsBadSignature(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(createReply(formMap(r)["MerchantTradeNo"], "300")))
	})
	ctx := context.Background()
	sh, err := f.logistics.CreateFromSelection(ctx, f.merchant, ShipmentRequest{
		SubType: "UNIMART", StoreID: "131386", ReceiverName: "王小明", GoodsAmount: 300,
	})
	require.NoError(t, err)

	params := statusCallback(sh.TradeNo, "2067")
	params["CheckMacValue"] = "DEADBEEF"
	assert.ErrorIs(t, f.logistics.HandleStatusCallback(ctx, params, ""), apperr.ErrSignature)

	got, _ := f.logistics.Get(ctx, f.merchant.ID, sh.TradeNo)
	assert.Equal(t, models.ShipCreated, got.Status)

	assert.ErrorIs(t, f.logistics.HandleStatusCallback(ctx, statusCallback("unknown", "2067"), ""), apperr.ErrNotFound)
}

func TestRefreshShipment(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		p := formMap(r)
		if r.URL.Path == "/query-ship" {
			_, _ = w.Write([]byte("MerchantID=" + testMerchantID + "&AllPayLogisticsID=" + p["AllPayLogisticsID"] + "&LogisticsStatus=2063&RtnCode=1"))
			return
		}
		_, _ = w.Write([]byte(createReply(p["MerchantTradeNo"], "300")))
	})
	ctx := context.Background()
	sh, err := f.logistics.CreateFromSelection(ctx, f.merchant, ShipmentRequest{
		SubType: "UNIMART", StoreID: "131386", ReceiverName: "王小明", GoodsAmount: 300,
	})
	require.NoError(t, err)

	got, err := f.logistics.Refresh(ctx, f.merchant, sh.TradeNo)
	require.NoError(t, err)
	assert.Equal(t, models.ShipArrived, got.Status)
}
