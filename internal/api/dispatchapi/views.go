package dispatchapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/BearBump/CourierDesk/internal/models"
	"github.com/BearBump/CourierDesk/internal/storage/pgdispatch"
)

type createOrderRequest struct {
	CustomerName      string   `json:"customerName"`
	CustomerPhone     string   `json:"customerPhone"`
	Address           string   `json:"address"`
	Lat               *float64 `json:"lat,omitempty"`
	Lng               *float64 `json:"lng,omitempty"`
	SubtotalAmount    int64    `json:"subtotalAmount"`
	DeliveryFeeAmount int64    `json:"deliveryFeeAmount"`
	PaymentMethod     string   `json:"paymentMethod"`
}

type claimRequest struct {
	CourierID uint64 `json:"courierId"`
}

type submitCodeRequest struct {
	CourierID uint64 `json:"courierId"`
	Code      string `json:"code"`
}

type transitionRequest struct {
	Target    string  `json:"target"`
	ActorRole string  `json:"actorRole"`
	ActorID   *uint64 `json:"actorId,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

type registerCourierRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type amountRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference,omitempty"`
}

type locationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type activeRequest struct {
	Active bool `json:"active"`
}

type paymentWebhookRequest struct {
	OrderID uint64 `json:"orderId"`
	Status  string `json:"status"`
}

type adminResetRequest struct {
	ActorRole string `json:"actorRole"`
}

type errorView struct {
	Error    string `json:"error"`
	Attempts int32  `json:"attempts,omitempty"`
}

type orderView struct {
	ID      uint64 `json:"id"`
	OrderNo uint64 `json:"orderNo"`

	CustomerName  string   `json:"customerName"`
	CustomerPhone string   `json:"customerPhone"`
	Address       string   `json:"address"`
	Lat           *float64 `json:"lat,omitempty"`
	Lng           *float64 `json:"lng,omitempty"`

	SubtotalAmount    int64 `json:"subtotalAmount"`
	DeliveryFeeAmount int64 `json:"deliveryFeeAmount"`
	TotalAmount       int64 `json:"totalAmount"`

	PaymentMethod string `json:"paymentMethod"`
	PaymentStatus string `json:"paymentStatus"`

	Status        string `json:"status"`
	StatusVersion int32  `json:"statusVersion"`

	AssignedCourierID *uint64 `json:"assignedCourierId,omitempty"`
	// DeliveryCode заполняется только в ответе на claim.
	DeliveryCode string `json:"deliveryCode,omitempty"`
	TrackURL     string `json:"trackUrl,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	AssignedAt  *time.Time `json:"assignedAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
}

func orderToView(o *models.Order) *orderView {
	return &orderView{
		ID:                o.ID,
		OrderNo:           o.OrderNo,
		CustomerName:      o.CustomerName,
		CustomerPhone:     o.CustomerPhone,
		Address:           o.Address,
		Lat:               o.Lat,
		Lng:               o.Lng,
		SubtotalAmount:    o.SubtotalAmount,
		DeliveryFeeAmount: o.DeliveryFeeAmount,
		TotalAmount:       o.TotalAmount,
		PaymentMethod:     o.PaymentMethod,
		PaymentStatus:     o.PaymentStatus,
		Status:            o.Status,
		StatusVersion:     o.StatusVersion,
		AssignedCourierID: o.AssignedCourierID,
		CreatedAt:         o.CreatedAt,
		AssignedAt:        o.AssignedAt,
		DeliveredAt:       o.DeliveredAt,
		CancelledAt:       o.CancelledAt,
	}
}

// trackView — публичное представление по трекинг-токену: без телефона
// клиента и без кода доставки.
type trackView struct {
	OrderNo     uint64     `json:"orderNo"`
	Status      string     `json:"status"`
	Address     string     `json:"address"`
	CreatedAt   time.Time  `json:"createdAt"`
	AssignedAt  *time.Time `json:"assignedAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

func trackToView(o *models.Order) *trackView {
	return &trackView{
		OrderNo:     o.OrderNo,
		Status:      o.Status,
		Address:     o.Address,
		CreatedAt:   o.CreatedAt,
		AssignedAt:  o.AssignedAt,
		DeliveredAt: o.DeliveredAt,
	}
}

type courierView struct {
	ID              uint64     `json:"id"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone"`
	IsActive        bool       `json:"isActive"`
	CurrentOrderID  *uint64    `json:"currentOrderId,omitempty"`
	TotalDeliveries int32      `json:"totalDeliveries"`
	LastLat         *float64   `json:"lastLat,omitempty"`
	LastLng         *float64   `json:"lastLng,omitempty"`
	LastLocatedAt   *time.Time `json:"lastLocatedAt,omitempty"`
}

func courierToView(c *models.Courier) *courierView {
	return &courierView{
		ID:              c.ID,
		Name:            c.Name,
		Phone:           c.Phone,
		IsActive:        c.IsActive,
		CurrentOrderID:  c.CurrentOrderID,
		TotalDeliveries: c.TotalDeliveries,
		LastLat:         c.LastLat,
		LastLng:         c.LastLng,
		LastLocatedAt:   c.LastLocatedAt,
	}
}

type txnView struct {
	ID        uint64    `json:"id"`
	CourierID uint64    `json:"courierId"`
	OrderID   *uint64   `json:"orderId,omitempty"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func txnToView(t *models.BalanceTransaction) *txnView {
	return &txnView{
		ID:        t.ID,
		CourierID: t.CourierID,
		OrderID:   t.OrderID,
		Type:      t.Type,
		Amount:    t.Amount,
		Reference: t.Reference,
		CreatedAt: t.CreatedAt,
	}
}

type eventView struct {
	FromStatus string    `json:"fromStatus"`
	ToStatus   string    `json:"toStatus"`
	ActorRole  string    `json:"actorRole"`
	ActorID    *uint64   `json:"actorId,omitempty"`
	Note       *string   `json:"note,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func eventsToView(events []*models.OrderEvent) map[string]any {
	out := make([]*eventView, 0, len(events))
	for _, e := range events {
		out = append(out, &eventView{
			FromStatus: e.FromStatus,
			ToStatus:   e.ToStatus,
			ActorRole:  e.ActorRole,
			ActorID:    e.ActorID,
			Note:       e.Note,
			CreatedAt:  e.CreatedAt,
		})
	}
	return map[string]any{"events": out}
}

type settlementView struct {
	Order        *orderView `json:"order"`
	NewBalance   int64      `json:"newBalance"`
	Transactions []*txnView `json:"transactions"`
}

func settlementToView(res *pgdispatch.SettlementResult) *settlementView {
	txns := make([]*txnView, 0, len(res.Transactions))
	for _, t := range res.Transactions {
		txns = append(txns, txnToView(t))
	}
	return &settlementView{
		Order:        orderToView(res.Order),
		NewBalance:   res.NewBalance,
		Transactions: txns,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
