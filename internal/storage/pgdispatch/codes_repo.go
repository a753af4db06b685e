package pgdispatch

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/CourierDesk/internal/models"
)

// IncrementCodeAttempt bumps the attempt counter for (order, courier) and
// returns the new count. Upsert, так что первая попытка создаёт строку.
func (s *Storage) IncrementCodeAttempt(ctx context.Context, orderID, courierID uint64) (int32, error) {
	var count int32
	err := s.db.QueryRow(ctx, `
INSERT INTO delivery_code_attempts (order_id, courier_id, attempt_count, last_attempt_at)
VALUES ($1,$2,1,now())
ON CONFLICT (order_id, courier_id)
DO UPDATE SET attempt_count = delivery_code_attempts.attempt_count + 1, last_attempt_at = now()
RETURNING attempt_count
`, orderID, courierID).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "increment code attempt")
	}
	return count, nil
}

func (s *Storage) GetCodeAttempt(ctx context.Context, orderID, courierID uint64) (*models.DeliveryCodeAttempt, error) {
	var a models.DeliveryCodeAttempt
	err := s.db.QueryRow(ctx, `
SELECT id, order_id, courier_id, attempt_count, last_attempt_at
FROM delivery_code_attempts
WHERE order_id = $1 AND courier_id = $2
`, orderID, courierID).Scan(&a.ID, &a.OrderID, &a.CourierID, &a.AttemptCount, &a.LastAttemptAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select code attempt")
	}
	return &a, nil
}

// DisableCustomerPayment adds a payment method to the customer's disabled set.
// Idempotent: repeated escalation past the ceiling must not duplicate the
// entry. The strike counter only moves when the set actually grows.
func (s *Storage) DisableCustomerPayment(ctx context.Context, phone, method string) error {
	_, err := s.db.Exec(ctx, `
UPDATE customers
SET disabled_payment_methods = array_append(disabled_payment_methods, $2),
    cash_payment_strikes = cash_payment_strikes + 1,
    updated_at = now()
WHERE phone = $1
  AND NOT ($2 = ANY(disabled_payment_methods))
`, phone, method)
	return errors.Wrap(err, "disable customer payment method")
}

func (s *Storage) GetCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error) {
	var c models.Customer
	err := s.db.QueryRow(ctx, `
SELECT id, phone, disabled_payment_methods, cash_payment_strikes, created_at, updated_at
FROM customers
WHERE phone = $1
`, phone).Scan(&c.ID, &c.Phone, &c.DisabledPaymentMethods, &c.CashPaymentStrikes, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select customer")
	}
	return &c, nil
}
