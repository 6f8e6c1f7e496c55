package postgres

import (
	"context"

	"github.com/baharkarakas/paygate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type auditLogsRepo struct{ pool *pgxpool.Pool }

// Create appends an audit row. Entries are never updated or deleted.
func (r *auditLogsRepo) Create(ctx context.Context, l models.AuditLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Details == nil {
		l.Details = map[string]any{}
	}
	_, err := r.pool.Exec(ctx, `
INSERT INTO audit_logs (id, entity_type, entity_id, action, details, created_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))`,
		l.ID, l.EntityType, l.EntityID, l.Action, l.Details, nullTime(l.CreatedAt))
	return err
}
