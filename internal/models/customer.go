package models

import "time"

// Customer is the anti-fraud flagging entity keyed by phone, not the
// commerce identity (orders carry their own contact snapshot).
type Customer struct {
	ID    uint64
	Phone string

	DisabledPaymentMethods []string
	CashPaymentStrikes     int32

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (c *Customer) PaymentMethodDisabled(method string) bool {
	for _, m := range c.DisabledPaymentMethods {
		if m == method {
			return true
		}
	}
	return false
}

// DeliveryCodeAttempt counts code submissions per (order, courier).
// The row is only meaningful while the order is ASSIGNED/IN_TRANSIT.
type DeliveryCodeAttempt struct {
	ID            uint64
	OrderID       uint64
	CourierID     uint64
	AttemptCount  int32
	LastAttemptAt time.Time
}
