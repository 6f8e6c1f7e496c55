package models

import (
	"fmt"
	"time"

	"github.com/baharkarakas/paygate/internal/apperr"
)

type ShipmentStatus string

const (
	ShipPending  ShipmentStatus = "pending"
	ShipCreated  ShipmentStatus = "created"
	ShipFailed   ShipmentStatus = "failed"
	ShipShipping ShipmentStatus = "shipping"
	ShipArrived  ShipmentStatus = "arrived"
	ShipPickedUp ShipmentStatus = "picked_up"
	ShipReturned ShipmentStatus = "returned"
)

// shipmentTransitions lists the statuses reachable from each status besides itself.
// It guards the synchronous create reply against regressing a status a
// callback already set; forward jumps are allowed since codes can be skipped.
var shipmentTransitions = map[ShipmentStatus][]ShipmentStatus{
	ShipPending:  {ShipCreated, ShipFailed, ShipShipping, ShipArrived, ShipPickedUp, ShipReturned},
	ShipCreated:  {ShipShipping, ShipArrived, ShipPickedUp, ShipReturned, ShipFailed},
	ShipShipping: {ShipArrived, ShipPickedUp, ShipReturned},
	ShipArrived:  {ShipPickedUp, ShipReturned},
}

// Apply moves to next. Re-applying the current status is a no-op; moving
// backwards (or out of picked_up/returned/failed) is ErrInvalidTransition.
func (s ShipmentStatus) Apply(next ShipmentStatus) (ShipmentStatus, error) {
	if next == s {
		return s, nil
	}
	for _, n := range shipmentTransitions[s] {
		if n == next {
			return next, nil
		}
	}
	return s, fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, s, next)
}

// LogisticsSubType is a convenience-store network code.
type LogisticsSubType string

const (
	SubTypeFamily  LogisticsSubType = "FAMIC2C"
	SubTypeUnimart LogisticsSubType = "UNIMARTC2C"
	SubTypeHiLife  LogisticsSubType = "HILIFEC2C"
)

var subTypeAliases = map[string]LogisticsSubType{
	"FAMI":       SubTypeFamily,
	"UNIMART":    SubTypeUnimart,
	"HILIFE":     SubTypeHiLife,
	"FAMIC2C":    SubTypeFamily,
	"UNIMARTC2C": SubTypeUnimart,
	"HILIFEC2C":  SubTypeHiLife,
}

// ParseSubType accepts the short and C2C spellings.
func ParseSubType(s string) (LogisticsSubType, bool) {
	st, ok := subTypeAliases[s]
	return st, ok
}

type Shipment struct {
	ID            string           `json:"id"`
	MerchantID    string           `json:"merchant_id"`
	TradeNo       string           `json:"merchant_trade_no"`
	OrderRef      string           `json:"order_id,omitempty"`
	SubType       LogisticsSubType `json:"logistics_sub_type"`
	StoreID       string           `json:"receiver_store_id"`
	StoreName     string           `json:"receiver_store_name,omitempty"`
	StoreAddress  string           `json:"receiver_store_address,omitempty"`
	ReceiverName  string           `json:"receiver_name"`
	ReceiverPhone string           `json:"receiver_phone,omitempty"`
	ReceiverEmail string           `json:"receiver_email,omitempty"`
	SenderName    string           `json:"sender_name"`
	SenderPhone   string           `json:"sender_phone"`
	GoodsName     string           `json:"goods_name"`
	GoodsAmount   int64            `json:"goods_amount"`
	IsCollection  bool             `json:"is_collection"`
	CollectionAmt int64            `json:"collection_amount"`
	Status        ShipmentStatus   `json:"status"`
	LogisticsID   *string          `json:"logistics_id,omitempty"`
	PaymentNo     *string          `json:"cvs_payment_no,omitempty"`
	ValidationNo  *string          `json:"cvs_validation_no,omitempty"`
	RtnCode       *string          `json:"rtn_code,omitempty"`
	RtnMsg        *string          `json:"rtn_msg,omitempty"`
	ErrorMessage  *string          `json:"error_message,omitempty"`
	RawResponse   map[string]any   `json:"-"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	ShippedAt     *time.Time       `json:"shipped_at,omitempty"`
	ArrivedAt     *time.Time       `json:"arrived_at,omitempty"`
	PickedUpAt    *time.Time       `json:"picked_up_at,omitempty"`
	ReturnedAt    *time.Time       `json:"returned_at,omitempty"`
}

type ShipmentPatch struct {
	Status       *ShipmentStatus
	LogisticsID  *string
	PaymentNo    *string
	ValidationNo *string
	RtnCode      *string
	RtnMsg       *string
	ErrorMessage *string
	RawResponse  map[string]any

	ShippedAt  *time.Time
	ArrivedAt  *time.Time
	PickedUpAt *time.Time
	ReturnedAt *time.Time
}

func (p *ShipmentPatch) Stamp(status ShipmentStatus, at time.Time) {
	p.Status = &status
	switch status {
	case ShipShipping:
		p.ShippedAt = &at
	case ShipArrived:
		p.ArrivedAt = &at
	case ShipPickedUp:
		p.PickedUpAt = &at
	case ShipReturned:
		p.ReturnedAt = &at
	}
}

func (p ShipmentPatch) ApplyTo(s *Shipment) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	setStr(&s.LogisticsID, p.LogisticsID)
	setStr(&s.PaymentNo, p.PaymentNo)
	setStr(&s.ValidationNo, p.ValidationNo)
	setStr(&s.RtnCode, p.RtnCode)
	setStr(&s.RtnMsg, p.RtnMsg)
	setStr(&s.ErrorMessage, p.ErrorMessage)
	if p.RawResponse != nil {
		s.RawResponse = p.RawResponse
	}
	setTime(&s.ShippedAt, p.ShippedAt)
	setTime(&s.ArrivedAt, p.ArrivedAt)
	setTime(&s.PickedUpAt, p.PickedUpAt)
	setTime(&s.ReturnedAt, p.ReturnedAt)
}

// CvsSelectionTTL bounds how long a store pick can be turned into a shipment.
const CvsSelectionTTL = 30 * time.Minute

type CvsSelection struct {
	ID           string           `json:"id"`
	MerchantID   string           `json:"merchant_id"`
	TempTradeNo  string           `json:"temp_trade_no"`
	SubType      LogisticsSubType `json:"logistics_sub_type"`
	StoreID      string           `json:"store_id"`
	StoreName    string           `json:"store_name"`
	StoreAddress string           `json:"store_address"`
	IsCollection bool             `json:"is_collection"`
	ReturnURL    string           `json:"-"`
	IsUsed       bool             `json:"is_used"`
	CreatedAt    time.Time        `json:"created_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
}
