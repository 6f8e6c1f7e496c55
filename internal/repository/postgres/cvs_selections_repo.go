package postgres

import (
	"context"
	"errors"

	"github.com/baharkarakas/paygate/internal/models"
	repo "github.com/baharkarakas/paygate/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type cvsSelectionsRepo struct{ pool *pgxpool.Pool }

const cvsCols = `id, merchant_id, temp_trade_no, logistics_sub_type, store_id, store_name, store_address,
  is_collection, return_url, is_used, created_at, expires_at`

func scanCvs(row pgx.Row) (models.CvsSelection, error) {
	var c models.CvsSelection
	err := row.Scan(&c.ID, &c.MerchantID, &c.TempTradeNo, &c.SubType, &c.StoreID, &c.StoreName, &c.StoreAddress,
		&c.IsCollection, &c.ReturnURL, &c.IsUsed, &c.CreatedAt, &c.ExpiresAt)
	return c, mapErr(err)
}

// Upsert keys on (merchant_id, temp_trade_no); a repeated pick overwrites the
// store while the selection is unused. is_used is never reset here.
func (r *cvsSelectionsRepo) Upsert(ctx context.Context, c models.CvsSelection) (models.CvsSelection, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO cvs_selections (id, merchant_id, temp_trade_no, logistics_sub_type, store_id, store_name,
  store_address, is_collection, return_url, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (merchant_id, temp_trade_no) DO UPDATE
   SET logistics_sub_type=EXCLUDED.logistics_sub_type, store_id=EXCLUDED.store_id,
       store_name=EXCLUDED.store_name, store_address=EXCLUDED.store_address,
       is_collection=EXCLUDED.is_collection, return_url=EXCLUDED.return_url,
       expires_at=EXCLUDED.expires_at
 WHERE NOT cvs_selections.is_used
RETURNING `+cvsCols,
		c.ID, c.MerchantID, c.TempTradeNo, c.SubType, c.StoreID, c.StoreName,
		c.StoreAddress, c.IsCollection, c.ReturnURL, c.ExpiresAt)
	out, err := scanCvs(row)
	if errors.Is(err, repo.ErrNotFound) {
		// the conflicting row exists but is consumed, so nothing was returned
		return models.CvsSelection{}, repo.ErrSelectionUsed
	}
	return out, err
}

func (r *cvsSelectionsRepo) GetByTempTradeNo(ctx context.Context, merchantID, tempTradeNo string) (models.CvsSelection, error) {
	return scanCvs(r.pool.QueryRow(ctx,
		`SELECT `+cvsCols+` FROM cvs_selections WHERE merchant_id=$1 AND temp_trade_no=$2`, merchantID, tempTradeNo))
}

func (r *cvsSelectionsRepo) MarkUsed(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE cvs_selections SET is_used=true WHERE id=$1 AND NOT is_used`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
