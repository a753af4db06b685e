package models

import "time"

const (
	NotificationStatusPending = "PENDING"
	NotificationStatusSent    = "SENT"
)

// Notification is an outbox row. It is written in the same transaction as
// the status change that produced it and delivered later by notify-worker.
type Notification struct {
	ID      uint64
	OrderID uint64

	RecipientRole string // customer | courier
	Phone         string
	Body          string

	Status        string
	FailCount     int32
	LastError     *string
	NextAttemptAt time.Time

	CreatedAt time.Time
	SentAt    *time.Time
}
