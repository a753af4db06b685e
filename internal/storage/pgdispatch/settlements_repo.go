package pgdispatch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/CourierDesk/internal/models"
)

type SettlementUpdate struct {
	OrderID   uint64
	CourierID uint64

	// DeliveryFee is the fixed per-delivery credit (config, not the order's
	// customer-facing fee).
	DeliveryFee int64
	// CashCollection, when non-zero, records the cash the courier collected
	// on delivery (cash-on-delivery home orders only).
	CashCollection int64

	Notifications []*models.Notification
}

type SettlementResult struct {
	Order        *models.Order
	NewBalance   int64
	Transactions []*models.BalanceTransaction
}

// SettleDelivery closes out a delivered order in one transaction: the
// IN_TRANSIT -> DELIVERED move, the ledger credits, the delivery counter and
// the assignment release all commit together or not at all. The status gate on
// the UPDATE makes double settlement impossible: the second caller's CAS
// misses and nothing else runs.
func (s *Storage) SettleDelivery(ctx context.Context, upd SettlementUpdate) (*SettlementResult, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE orders
SET status = 'DELIVERED',
    status_version = status_version + 1,
    delivered_at = $3,
    updated_at = $3
WHERE id = $1
  AND status = 'IN_TRANSIT'
  AND assigned_courier_id = $2
`, upd.OrderID, upd.CourierID, now)
	if err != nil {
		return nil, errors.Wrap(err, "deliver order")
	}
	if tag.RowsAffected() != 1 {
		return nil, models.ErrConflict
	}

	if err := releaseTx(ctx, tx, upd.OrderID, now); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
UPDATE couriers
SET total_deliveries = total_deliveries + 1, updated_at = $2
WHERE id = $1
`, upd.CourierID, now)
	if err != nil {
		return nil, errors.Wrap(err, "bump deliveries")
	}

	orderID := upd.OrderID
	txns := []*models.BalanceTransaction{{
		CourierID: upd.CourierID,
		OrderID:   &orderID,
		Type:      models.TxnTypeDeliveryFee,
		Amount:    upd.DeliveryFee,
		Reference: "delivery fee",
	}}
	if upd.CashCollection != 0 {
		txns = append(txns, &models.BalanceTransaction{
			CourierID: upd.CourierID,
			OrderID:   &orderID,
			Type:      models.TxnTypeCashCollection,
			Amount:    upd.CashCollection,
			Reference: "cash collected on delivery",
		})
	}
	for _, t := range txns {
		err = tx.QueryRow(ctx, `
INSERT INTO balance_transactions (courier_id, order_id, type, amount, reference, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id, created_at
`, t.CourierID, t.OrderID, t.Type, t.Amount, t.Reference, now).Scan(&t.ID, &t.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "insert settlement transaction")
		}
	}

	var newBalance int64
	err = tx.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0) FROM balance_transactions WHERE courier_id = $1
`, upd.CourierID).Scan(&newBalance)
	if err != nil {
		return nil, errors.Wrap(err, "sum balance")
	}

	courierID := upd.CourierID
	if err := appendEventTx(ctx, tx, &models.OrderEvent{
		OrderID:    upd.OrderID,
		FromStatus: models.OrderStatusInTransit,
		ToStatus:   models.OrderStatusDelivered,
		ActorRole:  models.RoleCourier,
		ActorID:    &courierID,
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}

	for _, n := range upd.Notifications {
		if err := enqueueNotificationTx(ctx, tx, n, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	o, err := s.GetOrderByID(ctx, upd.OrderID)
	if err != nil {
		return nil, err
	}
	return &SettlementResult{Order: o, NewBalance: newBalance, Transactions: txns}, nil
}
