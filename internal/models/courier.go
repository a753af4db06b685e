package models

import "time"

type Courier struct {
	ID       uint64
	Name     string
	Phone    string
	IsActive bool

	// CurrentOrderID is owned by the assignment coordinator: it is only ever
	// written together with orders.assigned_courier_id in one transaction.
	CurrentOrderID *uint64

	TotalDeliveries int32

	LastLat       *float64
	LastLng       *float64
	LastLocatedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type CourierCreateInput struct {
	Name  string
	Phone string
}
