package postgres

import (
	"context"

	"github.com/baharkarakas/paygate/internal/models"
	repo "github.com/baharkarakas/paygate/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type merchantsRepo struct{ pool *pgxpool.Pool }

const merchantCols = `id, code, name, api_key_prefix, api_key_hash, processor_merchant_id,
  hash_key_encrypted, hash_iv_encrypted, environment, webhook_url, success_url, failure_url,
  commerce_url, commerce_key, is_active, created_at, updated_at`

func scanMerchant(row pgx.Row) (models.Merchant, error) {
	var m models.Merchant
	err := row.Scan(&m.ID, &m.Code, &m.Name, &m.APIKeyPrefix, &m.APIKeyHash, &m.ProcessorMerchantID,
		&m.HashKeyEnc, &m.HashIVEnc, &m.Environment, &m.WebhookURL, &m.SuccessURL, &m.FailureURL,
		&m.CommerceURL, &m.CommerceKey, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	return m, mapErr(err)
}

func (r *merchantsRepo) Create(ctx context.Context, m models.Merchant) (models.Merchant, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO merchants (id, code, name, api_key_prefix, api_key_hash, processor_merchant_id,
  hash_key_encrypted, hash_iv_encrypted, environment, webhook_url, success_url, failure_url,
  commerce_url, commerce_key, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,true)
RETURNING `+merchantCols,
		m.ID, m.Code, m.Name, m.APIKeyPrefix, m.APIKeyHash, m.ProcessorMerchantID,
		m.HashKeyEnc, m.HashIVEnc, m.Environment, m.WebhookURL, m.SuccessURL, m.FailureURL,
		m.CommerceURL, m.CommerceKey)
	return scanMerchant(row)
}

func (r *merchantsRepo) GetByID(ctx context.Context, id string) (models.Merchant, error) {
	return scanMerchant(r.pool.QueryRow(ctx, `SELECT `+merchantCols+` FROM merchants WHERE id=$1`, id))
}

func (r *merchantsRepo) GetByCode(ctx context.Context, code string) (models.Merchant, error) {
	return scanMerchant(r.pool.QueryRow(ctx, `SELECT `+merchantCols+` FROM merchants WHERE code=$1`, code))
}

func (r *merchantsRepo) GetByAPIKeyPrefix(ctx context.Context, prefix string) ([]models.Merchant, error) {
	return r.query(ctx, `SELECT `+merchantCols+` FROM merchants WHERE api_key_prefix=$1 AND is_active`, prefix)
}

func (r *merchantsRepo) List(ctx context.Context) ([]models.Merchant, error) {
	return r.query(ctx, `SELECT `+merchantCols+` FROM merchants ORDER BY created_at DESC LIMIT 500`)
}

func (r *merchantsRepo) query(ctx context.Context, q string, args ...any) ([]models.Merchant, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *merchantsRepo) UpdateCredentials(ctx context.Context, code, processorID, keyEnc, ivEnc string, env models.Environment) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE merchants
   SET processor_merchant_id=$2, hash_key_encrypted=$3, hash_iv_encrypted=$4, environment=$5, updated_at=now()
 WHERE code=$1`, code, processorID, keyEnc, ivEnc, env)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *merchantsRepo) UpdateEnvironment(ctx context.Context, code string, env models.Environment) error {
	tag, err := r.pool.Exec(ctx, `UPDATE merchants SET environment=$2, updated_at=now() WHERE code=$1`, code, env)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (r *merchantsRepo) Deactivate(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE merchants SET is_active=false, updated_at=now() WHERE code=$1`, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}
