package pgdispatch

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS couriers (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  phone TEXT NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  current_order_id BIGINT NULL,
  total_deliveries INT NOT NULL DEFAULT 0,
  last_lat DOUBLE PRECISION NULL,
  last_lng DOUBLE PRECISION NULL,
  last_located_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (phone)
)`,
		// Один курьер — максимум один активный заказ.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_couriers_current_order
  ON couriers(current_order_id) WHERE current_order_id IS NOT NULL`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  order_no BIGSERIAL,
  customer_name TEXT NOT NULL,
  customer_phone TEXT NOT NULL,
  address TEXT NOT NULL,
  lat DOUBLE PRECISION NULL,
  lng DOUBLE PRECISION NULL,
  subtotal_amount BIGINT NOT NULL CHECK (subtotal_amount >= 0),
  delivery_fee_amount BIGINT NOT NULL CHECK (delivery_fee_amount >= 0),
  total_amount BIGINT NOT NULL CHECK (total_amount >= 0),
  payment_method TEXT NOT NULL,
  payment_status TEXT NOT NULL,
  status TEXT NOT NULL,
  status_version INT NOT NULL DEFAULT 0,
  assigned_courier_id BIGINT NULL REFERENCES couriers(id),
  delivery_code TEXT NULL,
  tracking_token TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  assigned_at TIMESTAMPTZ NULL,
  delivered_at TIMESTAMPTZ NULL,
  cancelled_at TIMESTAMPTZ NULL,
  cancel_reason TEXT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_orders_tracking_token
  ON orders(tracking_token) WHERE tracking_token IS NOT NULL`,
		// И обратно: один заказ — максимум один курьер.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_orders_assigned_courier
  ON orders(assigned_courier_id) WHERE assigned_courier_id IS NOT NULL AND status IN ('ASSIGNED','IN_TRANSIT')`,
		`
CREATE TABLE IF NOT EXISTS customers (
  id BIGSERIAL PRIMARY KEY,
  phone TEXT NOT NULL,
  disabled_payment_methods TEXT[] NOT NULL DEFAULT '{}',
  cash_payment_strikes INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (phone)
)`,
		`
CREATE TABLE IF NOT EXISTS balance_transactions (
  id BIGSERIAL PRIMARY KEY,
  courier_id BIGINT NOT NULL REFERENCES couriers(id),
  order_id BIGINT NULL REFERENCES orders(id),
  type TEXT NOT NULL,
  amount BIGINT NOT NULL,
  reference TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_balance_transactions_courier
  ON balance_transactions(courier_id, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS delivery_code_attempts (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  courier_id BIGINT NOT NULL REFERENCES couriers(id),
  attempt_count INT NOT NULL DEFAULT 0,
  last_attempt_at TIMESTAMPTZ NOT NULL,
  UNIQUE (order_id, courier_id)
)`,
		`
CREATE TABLE IF NOT EXISTS order_events (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  actor_role TEXT NOT NULL,
  actor_id BIGINT NULL,
  note TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_order
  ON order_events(order_id, created_at)`,
		`
CREATE TABLE IF NOT EXISTS notifications (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  recipient_role TEXT NOT NULL,
  phone TEXT NOT NULL,
  body TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'PENDING',
  fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  next_attempt_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  sent_at TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_due
  ON notifications(next_attempt_at) WHERE status = 'PENDING'`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
