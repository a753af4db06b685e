package pgdispatch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/CourierDesk/internal/models"
)

type ClaimUpdate struct {
	OrderID   uint64
	CourierID uint64

	DeliveryCode  string
	TrackingToken string

	Notifications []*models.Notification
}

// ClaimOrder atomically binds one order to one courier. Both rows are locked
// FOR UPDATE — always order first, then courier, so concurrent claims cannot
// deadlock. Racing callers lose with models.ErrAlreadyAssigned.
func (s *Storage) ClaimOrder(ctx context.Context, upd ClaimUpdate) (*models.Order, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	var assignedTo *uint64
	err = tx.QueryRow(ctx, `
SELECT status, assigned_courier_id FROM orders WHERE id = $1 FOR UPDATE
`, upd.OrderID).Scan(&status, &assignedTo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock order")
	}
	if assignedTo != nil {
		return nil, models.ErrAlreadyAssigned
	}
	if status != models.OrderStatusConfirmed && status != models.OrderStatusPreparing && status != models.OrderStatusReady {
		return nil, models.ErrAlreadyAssigned
	}

	var isActive bool
	var currentOrder *uint64
	err = tx.QueryRow(ctx, `
SELECT is_active, current_order_id FROM couriers WHERE id = $1 FOR UPDATE
`, upd.CourierID).Scan(&isActive, &currentOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock courier")
	}
	if !isActive || currentOrder != nil {
		return nil, models.ErrAlreadyAssigned
	}

	_, err = tx.Exec(ctx, `
UPDATE orders
SET status = $2,
    status_version = status_version + 1,
    assigned_courier_id = $3,
    delivery_code = $4,
    tracking_token = $5,
    assigned_at = $6,
    updated_at = $6
WHERE id = $1
`, upd.OrderID, models.OrderStatusAssigned, upd.CourierID, upd.DeliveryCode, upd.TrackingToken, now)
	if err != nil {
		return nil, errors.Wrap(err, "assign order")
	}

	_, err = tx.Exec(ctx, `
UPDATE couriers SET current_order_id = $2, updated_at = $3 WHERE id = $1
`, upd.CourierID, upd.OrderID, now)
	if err != nil {
		return nil, errors.Wrap(err, "assign courier")
	}

	courierID := upd.CourierID
	if err := appendEventTx(ctx, tx, &models.OrderEvent{
		OrderID:    upd.OrderID,
		FromStatus: status,
		ToStatus:   models.OrderStatusAssigned,
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

	return s.GetOrderByID(ctx, upd.OrderID)
}

// ReleaseOrder clears both sides of the assignment relationship. Releasing an
// order that holds no courier is a no-op, not an error.
func (s *Storage) ReleaseOrder(ctx context.Context, orderID uint64) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := releaseTx(ctx, tx, orderID, now); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func releaseTx(ctx context.Context, tx pgx.Tx, orderID uint64, now time.Time) error {
	_, err := tx.Exec(ctx, `
UPDATE couriers
SET current_order_id = NULL, updated_at = $2
WHERE current_order_id = $1
`, orderID, now)
	if err != nil {
		return errors.Wrap(err, "release courier")
	}

	// A standalone release puts the order back on the claimable list. When the
	// caller's transaction already moved the status (cancelled, delivered) the
	// CASE leaves it alone. The tracking token survives: it is immutable once
	// created.
	_, err = tx.Exec(ctx, `
UPDATE orders
SET assigned_courier_id = NULL,
    delivery_code = NULL,
    assigned_at = CASE WHEN status IN ('ASSIGNED','IN_TRANSIT') THEN NULL ELSE assigned_at END,
    status = CASE WHEN status IN ('ASSIGNED','IN_TRANSIT') THEN 'READY' ELSE status END,
    status_version = status_version + 1,
    updated_at = $2
WHERE id = $1
`, orderID, now)
	return errors.Wrap(err, "release order")
}
