package models

import (
	"fmt"
	"time"

	"github.com/baharkarakas/paygate/internal/apperr"
)

// TransactionTTL is how long a pending checkout stays payable.
const TransactionTTL = 30 * time.Minute

type TransactionStatus string

const (
	TxnPending    TransactionStatus = "pending"
	TxnAuthorized TransactionStatus = "authorized"
	TxnFailed     TransactionStatus = "failed"
	TxnCaptured   TransactionStatus = "captured"
	TxnCompleted  TransactionStatus = "completed"
	// TxnExpired is never stored; it is derived at read time from ExpiresAt.
	TxnExpired TransactionStatus = "expired"
)

// Terminal reports whether a processor callback may no longer change the status.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TxnAuthorized, TxnFailed, TxnCaptured, TxnCompleted:
		return true
	}
	return false
}

type TransactionEvent string

const (
	EventAuthorize TransactionEvent = "authorize"
	EventFail      TransactionEvent = "fail"
	EventCapture   TransactionEvent = "capture"
	EventComplete  TransactionEvent = "complete"
)

var transactionTransitions = map[TransactionStatus]map[TransactionEvent]TransactionStatus{
	TxnPending: {
		EventAuthorize: TxnAuthorized,
		EventFail:      TxnFailed,
	},
	TxnAuthorized: {
		EventCapture: TxnCaptured,
	},
	TxnCaptured: {
		EventComplete: TxnCompleted,
	},
}

// Apply returns the status reached by ev, or ErrInvalidTransition.
func (s TransactionStatus) Apply(ev TransactionEvent) (TransactionStatus, error) {
	if next, ok := transactionTransitions[s][ev]; ok {
		return next, nil
	}
	return s, fmt.Errorf("%w: %s --%s-->", apperr.ErrInvalidTransition, s, ev)
}

type Transaction struct {
	ID          string            `json:"id"`
	MerchantID  string            `json:"merchant_id"`
	TradeNo     string            `json:"merchant_trade_no"`
	ProcessorNo *string           `json:"processor_trade_no,omitempty"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Status      TransactionStatus `json:"status"`
	ItemName    string            `json:"item_name"`
	OrderRef    string            `json:"order_id,omitempty"`
	ReturnURL   string            `json:"return_url,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`

	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`

	PaymentType  *string        `json:"payment_type,omitempty"`
	CardLast4    *string        `json:"card_last4,omitempty"`
	AuthCode     *string        `json:"auth_code,omitempty"`
	ErrorCode    *string        `json:"error_code,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	Response     map[string]any `json:"-"`

	DownstreamOrderID   *string `json:"downstream_order_id,omitempty"`
	DownstreamPaymentID *string `json:"-"`

	CreatedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	AuthorizedAt     *time.Time `json:"authorized_at,omitempty"`
	FailedAt         *time.Time `json:"failed_at,omitempty"`
	CapturedAt       *time.Time `json:"captured_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	OrderCompletedAt *time.Time `json:"order_completed_at,omitempty"`
}

// EffectiveStatus folds the TTL into the stored status.
func (t Transaction) EffectiveStatus(now time.Time) TransactionStatus {
	if t.Status == TxnPending && now.After(t.ExpiresAt) {
		return TxnExpired
	}
	return t.Status
}

// TransactionPatch is a partial update. Nil fields are left alone; when
// IfStatus is set the update only applies if the row still has that status.
type TransactionPatch struct {
	IfStatus *TransactionStatus

	Status       *TransactionStatus
	ProcessorNo  *string
	PaymentType  *string
	CardLast4    *string
	AuthCode     *string
	ErrorCode    *string
	ErrorMessage *string
	Response     map[string]any

	DownstreamOrderID   *string
	DownstreamPaymentID *string

	AuthorizedAt     *time.Time
	FailedAt         *time.Time
	CapturedAt       *time.Time
	CompletedAt      *time.Time
	OrderCompletedAt *time.Time
}

// Stamp sets the timestamp column that belongs to status.
func (p *TransactionPatch) Stamp(status TransactionStatus, at time.Time) {
	p.Status = &status
	switch status {
	case TxnAuthorized:
		p.AuthorizedAt = &at
	case TxnFailed:
		p.FailedAt = &at
	case TxnCaptured:
		p.CapturedAt = &at
	case TxnCompleted:
		p.CompletedAt = &at
	}
}

// ApplyTo mutates t with every non-nil field of p.
func (p TransactionPatch) ApplyTo(t *Transaction) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	setStr(&t.ProcessorNo, p.ProcessorNo)
	setStr(&t.PaymentType, p.PaymentType)
	setStr(&t.CardLast4, p.CardLast4)
	setStr(&t.AuthCode, p.AuthCode)
	setStr(&t.ErrorCode, p.ErrorCode)
	setStr(&t.ErrorMessage, p.ErrorMessage)
	setStr(&t.DownstreamOrderID, p.DownstreamOrderID)
	setStr(&t.DownstreamPaymentID, p.DownstreamPaymentID)
	if p.Response != nil {
		t.Response = p.Response
	}
	setTime(&t.AuthorizedAt, p.AuthorizedAt)
	setTime(&t.FailedAt, p.FailedAt)
	setTime(&t.CapturedAt, p.CapturedAt)
	setTime(&t.CompletedAt, p.CompletedAt)
	setTime(&t.OrderCompletedAt, p.OrderCompletedAt)
}

type TransactionFilter struct {
	MerchantID string
	Status     TransactionStatus
	OrderRef   string
	Limit      int
	Offset     int
}

func setStr(dst **string, v *string) {
	if v != nil {
		s := *v
		*dst = &s
	}
}

func setTime(dst **time.Time, v *time.Time) {
	if v != nil {
		t := *v
		*dst = &t
	}
}

func Ptr[T any](v T) *T { return &v }
