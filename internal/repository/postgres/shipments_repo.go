package postgres

import (
	"context"
	"time"

	"github.com/baharkarakas/paygate/internal/models"
	repo "github.com/baharkarakas/paygate/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type shipmentsRepo struct{ pool *pgxpool.Pool }

const shipmentCols = `id, merchant_id, merchant_trade_no, order_ref, logistics_sub_type, store_id, store_name,
  store_address, receiver_name, receiver_phone, receiver_email, sender_name, sender_phone, goods_name,
  goods_amount, is_collection, collection_amount, status, logistics_id, cvs_payment_no, cvs_validation_no,
  rtn_code, rtn_msg, error_message, raw_response, created_at, updated_at, shipped_at, arrived_at,
  picked_up_at, returned_at`

func scanShipment(row pgx.Row) (models.Shipment, error) {
	var s models.Shipment
	err := row.Scan(&s.ID, &s.MerchantID, &s.TradeNo, &s.OrderRef, &s.SubType, &s.StoreID, &s.StoreName,
		&s.StoreAddress, &s.ReceiverName, &s.ReceiverPhone, &s.ReceiverEmail, &s.SenderName, &s.SenderPhone, &s.GoodsName,
		&s.GoodsAmount, &s.IsCollection, &s.CollectionAmt, &s.Status, &s.LogisticsID, &s.PaymentNo, &s.ValidationNo,
		&s.RtnCode, &s.RtnMsg, &s.ErrorMessage, &s.RawResponse, &s.CreatedAt, &s.UpdatedAt, &s.ShippedAt, &s.ArrivedAt,
		&s.PickedUpAt, &s.ReturnedAt)
	return s, mapErr(err)
}

func (r *shipmentsRepo) Insert(ctx context.Context, s models.Shipment) (models.Shipment, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.pool.QueryRow(ctx, `
INSERT INTO shipments (id, merchant_id, merchant_trade_no, order_ref, logistics_sub_type, store_id, store_name,
  store_address, receiver_name, receiver_phone, receiver_email, sender_name, sender_phone, goods_name,
  goods_amount, is_collection, collection_amount, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
RETURNING `+shipmentCols,
		s.ID, s.MerchantID, s.TradeNo, s.OrderRef, s.SubType, s.StoreID, s.StoreName,
		s.StoreAddress, s.ReceiverName, s.ReceiverPhone, s.ReceiverEmail, s.SenderName, s.SenderPhone, s.GoodsName,
		s.GoodsAmount, s.IsCollection, s.CollectionAmt, s.Status)
	return scanShipment(row)
}

func (r *shipmentsRepo) GetByTradeNo(ctx context.Context, tradeNo string) (models.Shipment, error) {
	return scanShipment(r.pool.QueryRow(ctx, `SELECT `+shipmentCols+` FROM shipments WHERE merchant_trade_no=$1`, tradeNo))
}

func (r *shipmentsRepo) UpdateFields(ctx context.Context, id string, p models.ShipmentPatch) error {
	var s setList
	if p.Status != nil {
		s.add("status", *p.Status)
	}
	addStr := func(col string, v *string) {
		if v != nil {
			s.add(col, *v)
		}
	}
	addStr("logistics_id", p.LogisticsID)
	addStr("cvs_payment_no", p.PaymentNo)
	addStr("cvs_validation_no", p.ValidationNo)
	addStr("rtn_code", p.RtnCode)
	addStr("rtn_msg", p.RtnMsg)
	addStr("error_message", p.ErrorMessage)
	if p.RawResponse != nil {
		s.add("raw_response", p.RawResponse)
	}
	addTime := func(col string, v *time.Time) {
		if v != nil {
			s.add(col, *v)
		}
	}
	addTime("shipped_at", p.ShippedAt)
	addTime("arrived_at", p.ArrivedAt)
	addTime("picked_up_at", p.PickedUpAt)
	addTime("returned_at", p.ReturnedAt)
	if len(s.cols) == 0 {
		return nil
	}
	s.cols = append(s.cols, "updated_at=now()")

	tag, err := r.pool.Exec(ctx, `UPDATE shipments SET `+s.clause()+` WHERE id=`+s.arg(id), s.args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}
