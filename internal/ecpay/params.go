package ecpay

import (
	"strconv"
	"time"

	"github.com/baharkarakas/paygate/internal/checkmac"
	"github.com/baharkarakas/paygate/internal/models"
)

const TradeDateLayout = "2006/01/02 15:04:05"

const (
	maxItemName     = 200
	maxTradeDesc    = 200
	maxGoodsName    = 60
	maxPersonName   = 10
	defaultGoods    = "商品"
	defaultTradeDes = "網路購物"
)

type PaymentOrder struct {
	MerchantID     string
	TradeNo        string
	TradeDate      time.Time
	Amount         int64
	ItemName       string
	ReturnURL      string
	ClientBackURL  string
	OrderResultURL string
}

// PaymentParams is the unsigned AioCheckOut parameter set.
func PaymentParams(o PaymentOrder) map[string]string {
	return map[string]string{
		"MerchantID":        o.MerchantID,
		"MerchantTradeNo":   o.TradeNo,
		"MerchantTradeDate": o.TradeDate.Format(TradeDateLayout),
		"PaymentType":       "aio",
		"TotalAmount":       checkmac.Int(o.Amount),
		"TradeDesc":         "Online Payment",
		"ItemName":          Truncate(o.ItemName, maxItemName),
		"ReturnURL":         o.ReturnURL,
		"ClientBackURL":     o.ClientBackURL,
		"OrderResultURL":    o.OrderResultURL,
		"ChoosePayment":     "ALL",
		"EncryptType":       "1",
	}
}

type MapRequest struct {
	MerchantID   string
	TradeNo      string
	SubType      models.LogisticsSubType
	IsCollection bool
	ReplyURL     string
	ExtraData    string
}

// MapParams is the store-picker form; the processor does not require a signature on it.
func MapParams(r MapRequest) map[string]string {
	return map[string]string{
		"MerchantID":       r.MerchantID,
		"MerchantTradeNo":  r.TradeNo,
		"LogisticsType":    "CVS",
		"LogisticsSubType": string(r.SubType),
		"IsCollection":     checkmac.Bool(r.IsCollection),
		"ServerReplyURL":   r.ReplyURL,
		"ExtraData":        r.ExtraData,
	}
}

type ShipmentOrder struct {
	MerchantID       string
	TradeNo          string
	TradeDate        time.Time
	SubType          models.LogisticsSubType
	GoodsName        string
	GoodsAmount      int64
	TradeDesc        string
	SenderName       string
	SenderPhone      string
	ReceiverName     string
	ReceiverPhone    string
	ReceiverEmail    string
	ReceiverStoreID  string
	ReplyURL         string
	IsCollection     bool
	CollectionAmount int64
}

// ShipmentParams is the unsigned C2C create-shipment form.
func ShipmentParams(o ShipmentOrder) map[string]string {
	goods := o.GoodsName
	if goods == "" {
		goods = defaultGoods
	}
	desc := o.TradeDesc
	if desc == "" {
		desc = defaultTradeDes
	}
	p := map[string]string{
		"MerchantID":        o.MerchantID,
		"MerchantTradeNo":   o.TradeNo,
		"MerchantTradeDate": o.TradeDate.Format(TradeDateLayout),
		"LogisticsType":     "CVS",
		"LogisticsSubType":  string(o.SubType),
		"GoodsAmount":       checkmac.Int(o.GoodsAmount),
		"GoodsName":         Truncate(goods, maxGoodsName),
		"TradeDesc":         Truncate(desc, maxTradeDesc),
		"SenderName":        Truncate(o.SenderName, maxPersonName),
		"SenderCellPhone":   o.SenderPhone,
		"ReceiverName":      Truncate(o.ReceiverName, maxPersonName),
		"ReceiverCellPhone": o.ReceiverPhone,
		"ReceiverStoreID":   o.ReceiverStoreID,
		"ServerReplyURL":    o.ReplyURL,
		"IsCollection":      checkmac.Bool(o.IsCollection),
	}
	if o.ReceiverEmail != "" {
		p["ReceiverEmail"] = o.ReceiverEmail
	}
	if o.IsCollection {
		p["CollectionAmount"] = checkmac.Int(o.CollectionAmount)
	}
	return p
}

func ShipmentQueryParams(merchantID, logisticsID string, at time.Time) map[string]string {
	return map[string]string{
		"MerchantID":        merchantID,
		"AllPayLogisticsID": logisticsID,
		"TimeStamp":         strconv.FormatInt(at.Unix(), 10),
	}
}

func TradeQueryParams(merchantID, tradeNo string, at time.Time) map[string]string {
	return map[string]string{
		"MerchantID":      merchantID,
		"MerchantTradeNo": tradeNo,
		"TimeStamp":       strconv.FormatInt(at.Unix(), 10),
	}
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
