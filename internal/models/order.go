package models

import "time"

// Статусы заказа. Порядок жизненного цикла:
// pending -> confirmed -> preparing -> ready -> assigned -> in_transit -> delivered,
// cancelled достижим из любого нетерминального статуса.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusPreparing = "PREPARING"
	OrderStatusReady     = "READY"
	OrderStatusAssigned  = "ASSIGNED"
	OrderStatusInTransit = "IN_TRANSIT"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusCancelled = "CANCELLED"
)

// Payment status is tracked independently of the order status.
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusConfirmed = "CONFIRMED"
	PaymentStatusApproved  = "APPROVED"
	PaymentStatusRejected  = "REJECTED"
)

const (
	PaymentMethodCash = "cash"
	PaymentMethodCard = "card"
)

// Actor roles used by the transition table.
const (
	RoleAdmin    = "admin"
	RoleKitchen  = "kitchen"
	RoleCourier  = "courier"
	RoleCustomer = "customer"
	RoleSystem   = "system"
)

func IsTerminalStatus(status string) bool {
	return status == OrderStatusDelivered || status == OrderStatusCancelled
}

type Order struct {
	ID      uint64
	OrderNo uint64

	CustomerName  string
	CustomerPhone string
	Address       string
	Lat           *float64
	Lng           *float64

	// Amounts are in minor currency units. TotalAmount = Subtotal + DeliveryFee.
	SubtotalAmount    int64
	DeliveryFeeAmount int64
	TotalAmount       int64

	PaymentMethod string
	PaymentStatus string

	Status        string
	StatusVersion int32

	AssignedCourierID *uint64
	// DeliveryCode непустой только пока статус ASSIGNED/IN_TRANSIT.
	DeliveryCode  *string
	TrackingToken *string

	CreatedAt    time.Time
	UpdatedAt    time.Time
	AssignedAt   *time.Time
	DeliveredAt  *time.Time
	CancelledAt  *time.Time
	CancelReason *string
}

type OrderCreateInput struct {
	CustomerName  string
	CustomerPhone string
	Address       string
	Lat           *float64
	Lng           *float64

	SubtotalAmount    int64
	DeliveryFeeAmount int64

	PaymentMethod string
}

// OrderEvent is an append-only audit record of a status change.
type OrderEvent struct {
	ID         uint64
	OrderID    uint64
	FromStatus string
	ToStatus   string
	ActorRole  string
	ActorID    *uint64
	Note       *string
	CreatedAt  time.Time
}
