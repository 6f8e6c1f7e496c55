package repository

import (
	"context"

	"github.com/baharkarakas/paygate/internal/models"
)

// Every method is atomic per row; that is the only synchronization the
// services rely on.

type Merchants interface {
	Create(ctx context.Context, m models.Merchant) (models.Merchant, error)
	GetByID(ctx context.Context, id string) (models.Merchant, error)
	GetByCode(ctx context.Context, code string) (models.Merchant, error)
	// GetByAPIKeyPrefix returns active merchants whose key starts with prefix.
	GetByAPIKeyPrefix(ctx context.Context, prefix string) ([]models.Merchant, error)
	List(ctx context.Context) ([]models.Merchant, error)
	UpdateCredentials(ctx context.Context, code, processorID, keyEnc, ivEnc string, env models.Environment) error
	UpdateEnvironment(ctx context.Context, code string, env models.Environment) error
	Deactivate(ctx context.Context, code string) error
}

type Transactions interface {
	Insert(ctx context.Context, t models.Transaction) (models.Transaction, error)
	GetByID(ctx context.Context, id string) (models.Transaction, error)
	GetByTradeNo(ctx context.Context, tradeNo string) (models.Transaction, error)
	// UpdateFields applies p and reports whether a row matched (including
	// p.IfStatus when set).
	UpdateFields(ctx context.Context, id string, p models.TransactionPatch) (bool, error)
	List(ctx context.Context, f models.TransactionFilter) ([]models.Transaction, error)
}

type Shipments interface {
	Insert(ctx context.Context, s models.Shipment) (models.Shipment, error)
	GetByTradeNo(ctx context.Context, tradeNo string) (models.Shipment, error)
	UpdateFields(ctx context.Context, id string, p models.ShipmentPatch) error
}

type CvsSelections interface {
	// Upsert creates or refreshes a selection; a consumed one is left as is
	// and ErrSelectionUsed returned.
	Upsert(ctx context.Context, s models.CvsSelection) (models.CvsSelection, error)
	GetByTempTradeNo(ctx context.Context, merchantID, tempTradeNo string) (models.CvsSelection, error)
	// MarkUsed flips is_used false->true; false means someone else consumed it.
	MarkUsed(ctx context.Context, id string) (bool, error)
}

type WebhookLogs interface {
	Create(ctx context.Context, l models.WebhookLog) (string, error)
	MarkProcessed(ctx context.Context, id, result string) error
	MarkNotified(ctx context.Context, kind models.WebhookKind, entityID string) error
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
}

// Set bundles one implementation of every store.
type Set struct {
	Merchants     Merchants
	Transactions  Transactions
	Shipments     Shipments
	CvsSelections CvsSelections
	WebhookLogs   WebhookLogs
	AuditLogs     AuditLogs
}
