package postgres

import (
	"context"

	"github.com/baharkarakas/paygate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type webhookLogsRepo struct{ pool *pgxpool.Pool }

func (r *webhookLogsRepo) Create(ctx context.Context, l models.WebhookLog) (string, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO webhook_logs (id, merchant_id, entity_id, type, source_ip, raw_body, check_mac_valid)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		l.ID, l.MerchantID, l.EntityID, l.Kind, l.SourceIP, l.RawBody, l.CheckMacValid)
	if err != nil {
		return "", mapErr(err)
	}
	return l.ID, nil
}

func (r *webhookLogsRepo) MarkProcessed(ctx context.Context, id, result string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE webhook_logs SET processed=true, process_result=$2, processed_at=now() WHERE id=$1`, id, result)
	return err
}

// MarkNotified flags every processed log of the entity.
func (r *webhookLogsRepo) MarkNotified(ctx context.Context, kind models.WebhookKind, entityID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE webhook_logs SET merchant_notified=true WHERE entity_id=$1 AND type=$2 AND processed`, entityID, kind)
	return err
}
