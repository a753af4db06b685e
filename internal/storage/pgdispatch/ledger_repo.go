package pgdispatch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/CourierDesk/internal/models"
)

// AppendTransaction appends one ledger row. The courier row is locked first so
// the allowance check and the insert see the same running balance under
// concurrent settlement calls. allowance is how far below zero the running
// balance may go before the policy rejects the write (0 = никакого минуса).
func (s *Storage) AppendTransaction(ctx context.Context, txn *models.BalanceTransaction, allowance int64) (int64, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists bool
	err = tx.QueryRow(ctx, `SELECT TRUE FROM couriers WHERE id = $1 FOR UPDATE`, txn.CourierID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, models.ErrNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "lock courier")
	}

	var balance int64
	err = tx.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0) FROM balance_transactions WHERE courier_id = $1
`, txn.CourierID).Scan(&balance)
	if err != nil {
		return 0, errors.Wrap(err, "sum balance")
	}

	newBalance := balance + txn.Amount
	if newBalance < -allowance {
		return balance, models.ErrInsufficientBalance
	}

	err = tx.QueryRow(ctx, `
INSERT INTO balance_transactions (courier_id, order_id, type, amount, reference, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id, created_at
`, txn.CourierID, txn.OrderID, txn.Type, txn.Amount, txn.Reference, now).Scan(&txn.ID, &txn.CreatedAt)
	if err != nil {
		return 0, errors.Wrap(err, "insert balance transaction")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, errors.Wrap(err, "commit tx")
	}
	return newBalance, nil
}

// GetBalance derives the current balance as the sum of the courier's ledger
// and returns the most recent entries alongside it.
func (s *Storage) GetBalance(ctx context.Context, courierID uint64, historyLimit int) (int64, []*models.BalanceTransaction, error) {
	if historyLimit <= 0 || historyLimit > 500 {
		historyLimit = 50
	}

	var balance int64
	err := s.db.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0) FROM balance_transactions WHERE courier_id = $1
`, courierID).Scan(&balance)
	if err != nil {
		return 0, nil, errors.Wrap(err, "sum balance")
	}

	rows, err := s.db.Query(ctx, `
SELECT id, courier_id, order_id, type, amount, reference, created_at
FROM balance_transactions
WHERE courier_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, courierID, historyLimit)
	if err != nil {
		return 0, nil, errors.Wrap(err, "select transactions")
	}
	defer rows.Close()

	var out []*models.BalanceTransaction
	for rows.Next() {
		var t models.BalanceTransaction
		if err := rows.Scan(&t.ID, &t.CourierID, &t.OrderID, &t.Type, &t.Amount, &t.Reference, &t.CreatedAt); err != nil {
			return 0, nil, errors.Wrap(err, "scan transaction")
		}
		out = append(out, &t)
	}
	if rows.Err() != nil {
		return 0, nil, errors.Wrap(rows.Err(), "rows")
	}
	return balance, out, nil
}
