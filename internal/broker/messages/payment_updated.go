package messages

import "time"

// PaymentUpdated is the payment processor's report, consumed from Kafka by
// dispatch-api. Processing must be idempotent: the processor redelivers.
type PaymentUpdated struct {
	OrderID   uint64    `json:"order_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}
