package dispatchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/BearBump/CourierDesk/internal/models"
	"github.com/BearBump/CourierDesk/internal/services/dispatch"
	"github.com/BearBump/CourierDesk/internal/services/settlement"
	"github.com/BearBump/CourierDesk/internal/storage/pgdispatch"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error)
	GetOrder(ctx context.Context, id uint64) (*models.Order, error)
	TrackByToken(ctx context.Context, token string) (*models.Order, error)
	OrderEvents(ctx context.Context, orderID uint64, limit int) ([]*models.OrderEvent, error)
	Transition(ctx context.Context, cmd dispatch.TransitionCommand) (*models.Order, error)
	ApplyPaymentStatus(ctx context.Context, orderID uint64, status string) error
	ResetOrders(ctx context.Context, actorRole string) error
}

type AssignmentService interface {
	Claim(ctx context.Context, orderID, courierID uint64) (*models.Order, error)
	Release(ctx context.Context, orderID uint64) error
	AvailableOrders(ctx context.Context) ([]*models.Order, error)
	RegisterCourier(ctx context.Context, in models.CourierCreateInput) (*models.Courier, error)
	Courier(ctx context.Context, id uint64) (*models.Courier, error)
	UpdateLocation(ctx context.Context, courierID uint64, lat, lng float64) error
	SetActive(ctx context.Context, courierID uint64, active bool) error
	TrackURL(token string) string
}

type SettlementService interface {
	ConfirmDelivery(ctx context.Context, orderID, courierID uint64, code string) (*pgdispatch.SettlementResult, error)
	RegisterAdminPayment(ctx context.Context, courierID uint64, amount int64, reference string) (*models.BalanceTransaction, error)
	AdjustBalance(ctx context.Context, courierID uint64, amount int64, reference string) (*models.BalanceTransaction, error)
	Balance(ctx context.Context, courierID uint64) (*settlement.BalanceView, error)
}

type Handler struct {
	orders      OrderService
	assignments AssignmentService
	settlements SettlementService
}

func New(orders OrderService, assignments AssignmentService, settlements SettlementService) *Handler {
	return &Handler{orders: orders, assignments: assignments, settlements: settlements}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", h.createOrder)
		r.Get("/orders/available", h.availableOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/events", h.orderEvents)
		r.Post("/orders/{id}/claim", h.claimOrder)
		r.Post("/orders/{id}/release", h.releaseOrder)
		r.Post("/orders/{id}/code", h.submitCode)
		r.Post("/orders/{id}/transition", h.transition)

		r.Get("/track/{token}", h.trackOrder)

		r.Post("/couriers", h.registerCourier)
		r.Get("/couriers/{id}", h.getCourier)
		r.Get("/couriers/{id}/balance", h.courierBalance)
		r.Post("/couriers/{id}/payments", h.adminPayment)
		r.Post("/couriers/{id}/adjustments", h.adjustBalance)
		r.Post("/couriers/{id}/location", h.courierLocation)
		r.Post("/couriers/{id}/active", h.courierActive)

		r.Post("/webhooks/payment", h.paymentWebhook)
		r.Post("/admin/reset", h.adminReset)
	})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decode(w, r, &req) {
		return
	}

	o, err := h.orders.CreateOrder(r.Context(), models.OrderCreateInput{
		CustomerName:      req.CustomerName,
		CustomerPhone:     req.CustomerPhone,
		Address:           req.Address,
		Lat:               req.Lat,
		Lng:               req.Lng,
		SubtotalAmount:    req.SubtotalAmount,
		DeliveryFeeAmount: req.DeliveryFeeAmount,
		PaymentMethod:     req.PaymentMethod,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderToView(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	o, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToView(o))
}

func (h *Handler) orderEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	events, err := h.orders.OrderEvents(r.Context(), id, 100)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsToView(events))
}

func (h *Handler) availableOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.assignments.AvailableOrders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]*orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderToView(o))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (h *Handler) claimOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req claimRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.assignments.Claim(r.Context(), id, req.CourierID)
	if err != nil {
		writeError(w, err)
		return
	}
	v := orderToView(o)
	// Код доставки курьер видит один раз, в ответе на claim.
	if o.DeliveryCode != nil {
		v.DeliveryCode = *o.DeliveryCode
	}
	if o.TrackingToken != nil {
		v.TrackURL = h.assignments.TrackURL(*o.TrackingToken)
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) releaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.assignments.Release(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"released": true})
}

func (h *Handler) submitCode(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req submitCodeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.settlements.ConfirmDelivery(r.Context(), id, req.CourierID, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settlementToView(res))
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req transitionRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := h.orders.Transition(r.Context(), dispatch.TransitionCommand{
		OrderID:   id,
		Target:    req.Target,
		ActorRole: req.ActorRole,
		ActorID:   req.ActorID,
		Reason:    req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderToView(o))
}

func (h *Handler) trackOrder(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	o, err := h.orders.TrackByToken(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trackToView(o))
}

func (h *Handler) registerCourier(w http.ResponseWriter, r *http.Request) {
	var req registerCourierRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.assignments.RegisterCourier(r.Context(), models.CourierCreateInput{
		Name:  req.Name,
		Phone: req.Phone,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, courierToView(c))
}

func (h *Handler) getCourier(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.assignments.Courier(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, courierToView(c))
}

func (h *Handler) courierBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	bv, err := h.settlements.Balance(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bv)
}

func (h *Handler) adminPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	txn, err := h.settlements.RegisterAdminPayment(r.Context(), id, req.Amount, req.Reference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txnToView(txn))
}

func (h *Handler) adjustBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	txn, err := h.settlements.AdjustBalance(r.Context(), id, req.Amount, req.Reference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, txnToView(txn))
}

func (h *Handler) courierLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req locationRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.assignments.UpdateLocation(r.Context(), id, req.Lat, req.Lng); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (h *Handler) courierActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req activeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.assignments.SetActive(r.Context(), id, req.Active); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req paymentWebhookRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.orders.ApplyPaymentStatus(r.Context(), req.OrderID, req.Status); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}

func (h *Handler) adminReset(w http.ResponseWriter, r *http.Request) {
	var req adminResetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.orders.ResetOrders(r.Context(), req.ActorRole); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorView{Error: "invalid json body"})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, errorView{Error: "invalid " + name})
		return 0, false
	}
	return id, true
}
