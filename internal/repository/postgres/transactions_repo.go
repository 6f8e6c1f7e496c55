package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/baharkarakas/paygate/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type transactionsRepo struct{ pool *pgxpool.Pool }

const txnCols = `id, merchant_id, merchant_trade_no, processor_trade_no, amount, currency, status,
  item_name, order_ref, return_url, metadata, customer_email, customer_name, customer_phone,
  payment_type, card_last4, auth_code, error_code, error_message, processor_response,
  downstream_order_id, downstream_payment_id, created_at, expires_at, authorized_at, failed_at,
  captured_at, completed_at, order_completed_at`

func scanTxn(row pgx.Row) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.MerchantID, &t.TradeNo, &t.ProcessorNo, &t.Amount, &t.Currency, &t.Status,
		&t.ItemName, &t.OrderRef, &t.ReturnURL, &t.Metadata, &t.CustomerEmail, &t.CustomerName, &t.CustomerPhone,
		&t.PaymentType, &t.CardLast4, &t.AuthCode, &t.ErrorCode, &t.ErrorMessage, &t.Response,
		&t.DownstreamOrderID, &t.DownstreamPaymentID, &t.CreatedAt, &t.ExpiresAt, &t.AuthorizedAt, &t.FailedAt,
		&t.CapturedAt, &t.CompletedAt, &t.OrderCompletedAt)
	return t, mapErr(err)
}

func (r *transactionsRepo) Insert(ctx context.Context, t models.Transaction) (models.Transaction, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO transactions (id, merchant_id, merchant_trade_no, amount, currency, status, item_name,
  order_ref, return_url, metadata, customer_email, customer_name, customer_phone, expires_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING `+txnCols,
		t.ID, t.MerchantID, t.TradeNo, t.Amount, t.Currency, t.Status, t.ItemName,
		t.OrderRef, t.ReturnURL, t.Metadata, t.CustomerEmail, t.CustomerName, t.CustomerPhone, t.ExpiresAt)
	return scanTxn(row)
}

func (r *transactionsRepo) GetByID(ctx context.Context, id string) (models.Transaction, error) {
	return scanTxn(r.pool.QueryRow(ctx, `SELECT `+txnCols+` FROM transactions WHERE id=$1`, id))
}

func (r *transactionsRepo) GetByTradeNo(ctx context.Context, tradeNo string) (models.Transaction, error) {
	return scanTxn(r.pool.QueryRow(ctx, `SELECT `+txnCols+` FROM transactions WHERE merchant_trade_no=$1`, tradeNo))
}

// UpdateFields runs a single UPDATE; with IfStatus set it doubles as a
// compare-and-swap on the status column.
func (r *transactionsRepo) UpdateFields(ctx context.Context, id string, p models.TransactionPatch) (bool, error) {
	var s setList
	if p.Status != nil {
		s.add("status", *p.Status)
	}
	addStr := func(col string, v *string) {
		if v != nil {
			s.add(col, *v)
		}
	}
	addStr("processor_trade_no", p.ProcessorNo)
	addStr("payment_type", p.PaymentType)
	addStr("card_last4", p.CardLast4)
	addStr("auth_code", p.AuthCode)
	addStr("error_code", p.ErrorCode)
	addStr("error_message", p.ErrorMessage)
	addStr("downstream_order_id", p.DownstreamOrderID)
	addStr("downstream_payment_id", p.DownstreamPaymentID)
	if p.Response != nil {
		s.add("processor_response", p.Response)
	}
	addTime := func(col string, v *time.Time) {
		if v != nil {
			s.add(col, *v)
		}
	}
	addTime("authorized_at", p.AuthorizedAt)
	addTime("failed_at", p.FailedAt)
	addTime("captured_at", p.CapturedAt)
	addTime("completed_at", p.CompletedAt)
	addTime("order_completed_at", p.OrderCompletedAt)
	if len(s.cols) == 0 {
		return false, nil
	}

	q := `UPDATE transactions SET ` + s.clause() + ` WHERE id=` + s.arg(id)
	if p.IfStatus != nil {
		q += ` AND status=` + s.arg(*p.IfStatus)
	}
	tag, err := r.pool.Exec(ctx, q, s.args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *transactionsRepo) List(ctx context.Context, f models.TransactionFilter) ([]models.Transaction, error) {
	var s setList
	q := `SELECT ` + txnCols + ` FROM transactions WHERE merchant_id=` + s.arg(f.MerchantID)
	if f.Status != "" {
		q += ` AND status=` + s.arg(f.Status)
	}
	if f.OrderRef != "" {
		q += ` AND order_ref=` + s.arg(f.OrderRef)
	}
	q += ` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(f.Limit) + ` OFFSET ` + strconv.Itoa(f.Offset)

	rows, err := r.pool.Query(ctx, q, s.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
