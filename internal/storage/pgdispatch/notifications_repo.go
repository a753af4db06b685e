package pgdispatch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/CourierDesk/internal/models"
)

func enqueueNotificationTx(ctx context.Context, tx pgx.Tx, n *models.Notification, now time.Time) error {
	_, err := tx.Exec(ctx, `
INSERT INTO notifications (order_id, recipient_role, phone, body, status, next_attempt_at, created_at)
VALUES ($1,$2,$3,$4,'PENDING',$5,$5)
`, n.OrderID, n.RecipientRole, n.Phone, n.Body, now)
	return errors.Wrap(err, "enqueue notification")
}

// ClaimDueNotifications выбирает пачку недоставленных уведомлений и "бронирует"
// их на lease, чтобы параллельные воркеры не взяли те же строки.
// SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueNotifications(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Notification, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT id, order_id, recipient_role, phone, body, status, fail_count, last_error, next_attempt_at, created_at, sent_at
FROM notifications
WHERE status = 'PENDING'
  AND next_attempt_at <= $1
ORDER BY next_attempt_at ASC
LIMIT $2
FOR UPDATE SKIP LOCKED
`, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due notifications")
	}
	defer rows.Close()

	var picked []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(
			&n.ID, &n.OrderID, &n.RecipientRole, &n.Phone, &n.Body,
			&n.Status, &n.FailCount, &n.LastError, &n.NextAttemptAt, &n.CreatedAt, &n.SentAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan due notification")
		}
		picked = append(picked, &n)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, n := range picked {
		if _, err := tx.Exec(ctx, `UPDATE notifications SET next_attempt_at = $2 WHERE id = $1`, n.ID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease notification")
		}
		n.NextAttemptAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

func (s *Storage) MarkNotificationSent(ctx context.Context, id uint64, sentAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE notifications
SET status = 'SENT', sent_at = $2, last_error = NULL
WHERE id = $1
`, id, sentAt.UTC())
	return errors.Wrap(err, "mark notification sent")
}

// MarkNotificationFailed records the failure and schedules the retry. The send
// stays best-effort: строка остаётся PENDING и будет взята снова после backoff.
func (s *Storage) MarkNotificationFailed(ctx context.Context, id uint64, sendErr string, nextAttemptAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE notifications
SET fail_count = fail_count + 1,
    last_error = $2,
    next_attempt_at = $3
WHERE id = $1
`, id, sendErr, nextAttemptAt.UTC())
	return errors.Wrap(err, "mark notification failed")
}
