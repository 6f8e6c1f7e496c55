package models

import "time"

type AuditLog struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   *string        `json:"entity_id"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details"`
	CreatedAt  time.Time      `json:"created_at"`
}

type WebhookKind string

const (
	WebhookPayment   WebhookKind = "payment"
	WebhookLogistics WebhookKind = "logistics"
)

// WebhookLog records one inbound processor callback, valid or not.
type WebhookLog struct {
	ID               string         `json:"id"`
	MerchantID       string         `json:"merchant_id"`
	EntityID         string         `json:"entity_id"`
	Kind             WebhookKind    `json:"type"`
	SourceIP         string         `json:"source_ip"`
	RawBody          map[string]any `json:"raw_body"`
	CheckMacValid    bool           `json:"check_mac_valid"`
	Processed        bool           `json:"processed"`
	ProcessResult    string         `json:"process_result,omitempty"`
	MerchantNotified bool           `json:"merchant_notified"`
	CreatedAt        time.Time      `json:"created_at"`
	ProcessedAt      *time.Time     `json:"processed_at,omitempty"`
}

// RawParams converts form params to the jsonb-friendly map stored in snapshots.
func RawParams(p map[string]string) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
