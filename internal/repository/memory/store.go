// Package memory is a mutex-guarded implementation of the repository
// interfaces. It backs STORE=memory and the service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/baharkarakas/paygate/internal/models"
	repo "github.com/baharkarakas/paygate/internal/repository"
	"github.com/google/uuid"
)

type Store struct {
	mu sync.Mutex

	merchants    map[string]models.Merchant
	transactions map[string]models.Transaction
	shipments    map[string]models.Shipment
	selections   map[string]models.CvsSelection
	webhooks     map[string]models.WebhookLog
	audits       []models.AuditLog

	now func() time.Time
}

func New() *Store {
	return &Store{
		merchants:    map[string]models.Merchant{},
		transactions: map[string]models.Transaction{},
		shipments:    map[string]models.Shipment{},
		selections:   map[string]models.CvsSelection{},
		webhooks:     map[string]models.WebhookLog{},
		now:          time.Now,
	}
}

// Set exposes the store through the repository interfaces.
func (s *Store) Set() repo.Set {
	return repo.Set{
		Merchants:     s.Merchants(),
		Transactions:  s.Transactions(),
		Shipments:     s.Shipments(),
		CvsSelections: s.CvsSelections(),
		WebhookLogs:   s.WebhookLogs(),
		AuditLogs:     s.AuditLogs(),
	}
}

func (s *Store) Merchants() repo.Merchants         { return merchants{s} }
func (s *Store) Transactions() repo.Transactions   { return transactions{s} }
func (s *Store) Shipments() repo.Shipments         { return shipments{s} }
func (s *Store) CvsSelections() repo.CvsSelections { return selections{s} }
func (s *Store) WebhookLogs() repo.WebhookLogs     { return webhooks{s} }
func (s *Store) AuditLogs() repo.AuditLogs         { return audits{s} }

// AuditTrail returns a copy of every audit entry written so far.
func (s *Store) AuditTrail() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditLog(nil), s.audits...)
}

// Webhooks returns every webhook log, oldest first.
func (s *Store) Webhooks() []models.WebhookLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.WebhookLog, 0, len(s.webhooks))
	for _, l := range s.webhooks {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func duplicate(what string) error { return fmt.Errorf("%w: %s", repo.ErrDuplicate, what) }

// ---- merchants

type merchants struct{ s *Store }

func (r merchants) Create(_ context.Context, m models.Merchant) (models.Merchant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, x := range r.s.merchants {
		if x.Code == m.Code {
			return models.Merchant{}, duplicate("merchants_code_key")
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Environment == "" {
		m.Environment = models.EnvStaging
	}
	m.IsActive = true
	m.CreatedAt = r.s.now()
	m.UpdatedAt = m.CreatedAt
	r.s.merchants[m.ID] = m
	return m, nil
}

func (r merchants) GetByID(_ context.Context, id string) (models.Merchant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.merchants[id]
	if !ok {
		return models.Merchant{}, repo.ErrNotFound
	}
	return m, nil
}

func (r merchants) GetByCode(_ context.Context, code string) (models.Merchant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.byCode(code)
	if !ok {
		return models.Merchant{}, repo.ErrNotFound
	}
	return m, nil
}

func (r merchants) byCode(code string) (models.Merchant, bool) {
	for _, m := range r.s.merchants {
		if m.Code == code {
			return m, true
		}
	}
	return models.Merchant{}, false
}

func (r merchants) GetByAPIKeyPrefix(_ context.Context, prefix string) ([]models.Merchant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Merchant
	for _, m := range r.s.merchants {
		if m.IsActive && m.APIKeyPrefix == prefix {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r merchants) List(_ context.Context) ([]models.Merchant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]models.Merchant, 0, len(r.s.merchants))
	for _, m := range r.s.merchants {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r merchants) update(code string, fn func(*models.Merchant)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.byCode(code)
	if !ok {
		return repo.ErrNotFound
	}
	fn(&m)
	m.UpdatedAt = r.s.now()
	r.s.merchants[m.ID] = m
	return nil
}

func (r merchants) UpdateCredentials(_ context.Context, code, processorID, keyEnc, ivEnc string, env models.Environment) error {
	return r.update(code, func(m *models.Merchant) {
		m.ProcessorMerchantID = processorID
		m.HashKeyEnc = keyEnc
		m.HashIVEnc = ivEnc
		m.Environment = env
	})
}

func (r merchants) UpdateEnvironment(_ context.Context, code string, env models.Environment) error {
	return r.update(code, func(m *models.Merchant) { m.Environment = env })
}

func (r merchants) Deactivate(_ context.Context, code string) error {
	return r.update(code, func(m *models.Merchant) { m.IsActive = false })
}

// ---- transactions

type transactions struct{ s *Store }

func (r transactions) Insert(_ context.Context, t models.Transaction) (models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, x := range r.s.transactions {
		if x.TradeNo == t.TradeNo {
			return models.Transaction{}, duplicate("transactions_merchant_trade_no_key")
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	t.CreatedAt = r.s.now()
	r.s.transactions[t.ID] = t
	return t, nil
}

func (r transactions) GetByID(_ context.Context, id string) (models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.transactions[id]
	if !ok {
		return models.Transaction{}, repo.ErrNotFound
	}
	return t, nil
}

func (r transactions) GetByTradeNo(_ context.Context, tradeNo string) (models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.transactions {
		if t.TradeNo == tradeNo {
			return t, nil
		}
	}
	return models.Transaction{}, repo.ErrNotFound
}

func (r transactions) UpdateFields(_ context.Context, id string, p models.TransactionPatch) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.transactions[id]
	if !ok {
		return false, nil
	}
	if p.IfStatus != nil && t.Status != *p.IfStatus {
		return false, nil
	}
	p.ApplyTo(&t)
	r.s.transactions[id] = t
	return true, nil
}

func (r transactions) List(_ context.Context, f models.TransactionFilter) ([]models.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []models.Transaction
	for _, t := range r.s.transactions {
		if t.MerchantID != f.MerchantID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.OrderRef != "" && t.OrderRef != f.OrderRef {
			continue
		}
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return strings.Compare(all[i].TradeNo, all[j].TradeNo) > 0
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if f.Offset >= len(all) {
		return nil, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	return all, nil
}

// ---- shipments

type shipments struct{ s *Store }

func (r shipments) Insert(_ context.Context, sh models.Shipment) (models.Shipment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, x := range r.s.shipments {
		if x.TradeNo == sh.TradeNo {
			return models.Shipment{}, duplicate("shipments_merchant_trade_no_key")
		}
	}
	if sh.ID == "" {
		sh.ID = uuid.NewString()
	}
	sh.CreatedAt = r.s.now()
	sh.UpdatedAt = sh.CreatedAt
	r.s.shipments[sh.ID] = sh
	return sh, nil
}

func (r shipments) GetByTradeNo(_ context.Context, tradeNo string) (models.Shipment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sh := range r.s.shipments {
		if sh.TradeNo == tradeNo {
			return sh, nil
		}
	}
	return models.Shipment{}, repo.ErrNotFound
}

func (r shipments) UpdateFields(_ context.Context, id string, p models.ShipmentPatch) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sh, ok := r.s.shipments[id]
	if !ok {
		return repo.ErrNotFound
	}
	p.ApplyTo(&sh)
	sh.UpdatedAt = r.s.now()
	r.s.shipments[id] = sh
	return nil
}

// ---- cvs selections

type selections struct{ s *Store }

func selectionKey(merchantID, temp string) string { return merchantID + "/" + temp }

func (r selections) Upsert(_ context.Context, c models.CvsSelection) (models.CvsSelection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := selectionKey(c.MerchantID, c.TempTradeNo)
	if old, ok := r.s.selections[k]; ok {
		if old.IsUsed {
			return models.CvsSelection{}, repo.ErrSelectionUsed
		}
		c.ID = old.ID
		c.CreatedAt = old.CreatedAt
	} else {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.CreatedAt = r.s.now()
	}
	c.IsUsed = false
	r.s.selections[k] = c
	return c, nil
}

func (r selections) GetByTempTradeNo(_ context.Context, merchantID, temp string) (models.CvsSelection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.selections[selectionKey(merchantID, temp)]
	if !ok {
		return models.CvsSelection{}, repo.ErrNotFound
	}
	return c, nil
}

func (r selections) MarkUsed(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for k, c := range r.s.selections {
		if c.ID != id {
			continue
		}
		if c.IsUsed {
			return false, nil
		}
		c.IsUsed = true
		r.s.selections[k] = c
		return true, nil
	}
	return false, nil
}

// ---- webhook logs

type webhooks struct{ s *Store }

func (r webhooks) Create(_ context.Context, l models.WebhookLog) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = r.s.now()
	r.s.webhooks[l.ID] = l
	return l.ID, nil
}

func (r webhooks) MarkProcessed(_ context.Context, id, result string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.webhooks[id]
	if !ok {
		return repo.ErrNotFound
	}
	at := r.s.now()
	l.Processed = true
	l.ProcessResult = result
	l.ProcessedAt = &at
	r.s.webhooks[id] = l
	return nil
}

func (r webhooks) MarkNotified(_ context.Context, kind models.WebhookKind, entityID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, l := range r.s.webhooks {
		if l.Kind == kind && l.EntityID == entityID && l.Processed {
			l.MerchantNotified = true
			r.s.webhooks[id] = l
		}
	}
	return nil
}

// ---- audit logs

type audits struct{ s *Store }

func (r audits) Create(_ context.Context, l models.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.CreatedAt = r.s.now()
	r.s.audits = append(r.s.audits, l)
	return nil
}
