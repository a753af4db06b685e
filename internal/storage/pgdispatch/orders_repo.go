package pgdispatch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/CourierDesk/internal/models"
)

const orderColumns = `
  id, order_no, customer_name, customer_phone, address, lat, lng,
  subtotal_amount, delivery_fee_amount, total_amount,
  payment_method, payment_status,
  status, status_version, assigned_courier_id, delivery_code, tracking_token,
  created_at, updated_at, assigned_at, delivered_at, cancelled_at, cancel_reason`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID, &o.OrderNo, &o.CustomerName, &o.CustomerPhone, &o.Address, &o.Lat, &o.Lng,
		&o.SubtotalAmount, &o.DeliveryFeeAmount, &o.TotalAmount,
		&o.PaymentMethod, &o.PaymentStatus,
		&o.Status, &o.StatusVersion, &o.AssignedCourierID, &o.DeliveryCode, &o.TrackingToken,
		&o.CreatedAt, &o.UpdatedAt, &o.AssignedAt, &o.DeliveredAt, &o.CancelledAt, &o.CancelReason,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan order")
	}
	return &o, nil
}

func (s *Storage) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	now := time.Now().UTC()
	total := in.SubtotalAmount + in.DeliveryFeeAmount

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Customer flagging entity is keyed by phone; create it lazily here so the
	// anti-fraud path always has a row to escalate against.
	_, err = tx.Exec(ctx, `
INSERT INTO customers (phone, created_at, updated_at)
VALUES ($1, $2, $2)
ON CONFLICT (phone) DO NOTHING
`, in.CustomerPhone, now)
	if err != nil {
		return nil, errors.Wrap(err, "upsert customer")
	}

	var id uint64
	err = tx.QueryRow(ctx, `
INSERT INTO orders (
  customer_name, customer_phone, address, lat, lng,
  subtotal_amount, delivery_fee_amount, total_amount,
  payment_method, payment_status, status,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
RETURNING id
`, in.CustomerName, in.CustomerPhone, in.Address, in.Lat, in.Lng,
		in.SubtotalAmount, in.DeliveryFeeAmount, total,
		in.PaymentMethod, models.PaymentStatusPending, models.OrderStatusPending,
		now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}

	if err := appendEventTx(ctx, tx, &models.OrderEvent{
		OrderID:    id,
		FromStatus: "",
		ToStatus:   models.OrderStatusPending,
		ActorRole:  models.RoleCustomer,
		CreatedAt:  now,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetOrderByID(ctx, id)
}

func (s *Storage) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

func (s *Storage) GetOrderByTrackingToken(ctx context.Context, token string) (*models.Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE tracking_token = $1`, token)
	return scanOrder(row)
}

// ListAvailableOrders returns claimable orders: confirmed by an admin (or
// further along in the kitchen) and not yet bound to any courier.
func (s *Storage) ListAvailableOrders(ctx context.Context) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE status IN ('CONFIRMED','PREPARING','READY')
  AND assigned_courier_id IS NULL
ORDER BY created_at ASC
`)
	if err != nil {
		return nil, errors.Wrap(err, "select available orders")
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// TransitionUpdate describes one atomic status change: the CAS update itself,
// the audit event and any outbox rows, plus an optional assignment release.
type TransitionUpdate struct {
	OrderID       uint64
	FromStatus    string
	ToStatus      string
	StatusVersion int32

	ActorRole string
	ActorID   *uint64
	Note      *string

	// ReleaseCourier clears both sides of the assignment relationship and the
	// delivery code (used by cancellation of an assigned order).
	ReleaseCourier bool

	Notifications []*models.Notification
}

// ApplyTransition performs the compare-and-swap status update. It returns
// false (and no error) when the CAS misses, i.e. a concurrent writer won.
func (s *Storage) ApplyTransition(ctx context.Context, upd TransitionUpdate) (bool, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE orders
SET status = $1,
    status_version = status_version + 1,
    cancelled_at = CASE WHEN $1 = 'CANCELLED' THEN $5 ELSE cancelled_at END,
    cancel_reason = CASE WHEN $1 = 'CANCELLED' THEN $6 ELSE cancel_reason END,
    updated_at = $5
WHERE id = $2 AND status = $3 AND status_version = $4
`, upd.ToStatus, upd.OrderID, upd.FromStatus, upd.StatusVersion, now, upd.Note)
	if err != nil {
		return false, errors.Wrap(err, "update order status")
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if upd.ReleaseCourier {
		if err := releaseTx(ctx, tx, upd.OrderID, now); err != nil {
			return false, err
		}
	}

	if err := appendEventTx(ctx, tx, &models.OrderEvent{
		OrderID:    upd.OrderID,
		FromStatus: upd.FromStatus,
		ToStatus:   upd.ToStatus,
		ActorRole:  upd.ActorRole,
		ActorID:    upd.ActorID,
		Note:       upd.Note,
		CreatedAt:  now,
	}); err != nil {
		return false, err
	}

	for _, n := range upd.Notifications {
		if err := enqueueNotificationTx(ctx, tx, n, now); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit tx")
	}
	return true, nil
}

// ApplyPaymentStatus is the idempotent webhook write: a repeated report of the
// same payment status changes nothing and returns changed=false.
func (s *Storage) ApplyPaymentStatus(ctx context.Context, orderID uint64, status string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE orders
SET payment_status = $2, updated_at = now()
WHERE id = $1 AND payment_status <> $2
`, orderID, status)
	if err != nil {
		return false, errors.Wrap(err, "update payment status")
	}
	return tag.RowsAffected() == 1, nil
}

// ResetOrders is the administrative full reset: wipes orders and everything
// hanging off them, and frees all couriers. The balance ledger is untouched
// (append-only, corrections are new adjustment rows).
func (s *Storage) ResetOrders(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stmts := []string{
		`UPDATE couriers SET current_order_id = NULL, updated_at = now()`,
		`UPDATE balance_transactions SET order_id = NULL`,
		`DELETE FROM notifications`,
		`DELETE FROM order_events`,
		`DELETE FROM delivery_code_attempts`,
		`DELETE FROM orders`,
	}
	for _, q := range stmts {
		if _, err := tx.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "reset orders")
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func appendEventTx(ctx context.Context, tx pgx.Tx, e *models.OrderEvent) error {
	_, err := tx.Exec(ctx, `
INSERT INTO order_events (order_id, from_status, to_status, actor_role, actor_id, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, e.OrderID, e.FromStatus, e.ToStatus, e.ActorRole, e.ActorID, e.Note, e.CreatedAt)
	return errors.Wrap(err, "insert order event")
}

func (s *Storage) ListOrderEvents(ctx context.Context, orderID uint64, limit int) ([]*models.OrderEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
SELECT id, order_id, from_status, to_status, actor_role, actor_id, note, created_at
FROM order_events
WHERE order_id = $1
ORDER BY created_at ASC
LIMIT $2
`, orderID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select order events")
	}
	defer rows.Close()

	var out []*models.OrderEvent
	for rows.Next() {
		var e models.OrderEvent
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.ActorRole, &e.ActorID, &e.Note, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan order event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
