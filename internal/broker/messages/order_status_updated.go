package messages

import "time"

// OrderStatusUpdated is published to Kafka by notify-worker for every order
// status change it ships, so downstream consumers (analytics, exports) do not
// poll the engine.
type OrderStatusUpdated struct {
	OrderID   uint64    `json:"order_id"`
	OrderNo   uint64    `json:"order_no"`
	Status    string    `json:"status"`
	ChangedAt time.Time `json:"changed_at"`

	CourierID *uint64 `json:"courier_id,omitempty"`

	TrackingToken string `json:"tracking_token,omitempty"`
}
