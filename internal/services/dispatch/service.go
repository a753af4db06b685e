package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/BearBump/CourierDesk/internal/models"
	"github.com/BearBump/CourierDesk/internal/storage/pgdispatch"
)

type Repository interface {
	CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error)
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
	GetOrderByTrackingToken(ctx context.Context, token string) (*models.Order, error)
	ApplyTransition(ctx context.Context, upd pgdispatch.TransitionUpdate) (bool, error)
	ApplyPaymentStatus(ctx context.Context, orderID uint64, status string) (bool, error)
	ListOrderEvents(ctx context.Context, orderID uint64, limit int) ([]*models.OrderEvent, error)
	GetCustomerByPhone(ctx context.Context, phone string) (*models.Customer, error)
	ResetOrders(ctx context.Context) error
}

// Service владеет каноническим статусом заказа: все переходы идут через
// таблицу transitionTable и CAS в storage.
type Service struct {
	repo Repository
}

func New(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	if in.CustomerName == "" {
		return nil, errors.Wrap(models.ErrValidation, "customerName is required")
	}
	if in.CustomerPhone == "" {
		return nil, errors.Wrap(models.ErrValidation, "customerPhone is required")
	}
	if in.SubtotalAmount < 0 || in.DeliveryFeeAmount < 0 {
		return nil, errors.Wrap(models.ErrValidation, "amounts must be non-negative")
	}
	switch in.PaymentMethod {
	case models.PaymentMethodCash, models.PaymentMethodCard:
	default:
		return nil, errors.Wrap(models.ErrValidation, "unknown payment method")
	}

	// Flagged customers cannot keep ordering cash-on-delivery.
	if cust, err := s.repo.GetCustomerByPhone(ctx, in.CustomerPhone); err == nil {
		if cust.PaymentMethodDisabled(in.PaymentMethod) {
			return nil, models.ErrUnauthorized
		}
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	return s.repo.CreateOrder(ctx, in)
}

func (s *Service) GetOrder(ctx context.Context, id uint64) (*models.Order, error) {
	return s.repo.GetOrderByID(ctx, id)
}

// TrackByToken is the public, unauthenticated progress view. The delivery code
// is stripped: the token holder is the customer, not the courier.
func (s *Service) TrackByToken(ctx context.Context, token string) (*models.Order, error) {
	if token == "" {
		return nil, models.ErrNotFound
	}
	o, err := s.repo.GetOrderByTrackingToken(ctx, token)
	if err != nil {
		return nil, err
	}
	o.DeliveryCode = nil
	return o, nil
}

func (s *Service) OrderEvents(ctx context.Context, orderID uint64, limit int) ([]*models.OrderEvent, error) {
	return s.repo.ListOrderEvents(ctx, orderID, limit)
}

type TransitionCommand struct {
	OrderID   uint64
	Target    string
	ActorRole string
	ActorID   *uint64
	Reason    string
}

// Transition validates the requested edge against the transition table and the
// actor, then applies it atomically. Claim and code validation own their
// edges: ASSIGNED and DELIVERED are rejected here even though the table lists
// them, чтобы нельзя было обойти генерацию кода и антифрод.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (*models.Order, error) {
	o, err := s.repo.GetOrderByID(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}

	if cmd.Target == models.OrderStatusAssigned || cmd.Target == models.OrderStatusDelivered {
		return nil, &models.InvalidTransitionError{From: o.Status, To: cmd.Target, Role: cmd.ActorRole}
	}
	if !Allowed(o.Status, cmd.Target, cmd.ActorRole) {
		return nil, &models.InvalidTransitionError{From: o.Status, To: cmd.Target, Role: cmd.ActorRole}
	}
	// Только назначенный курьер двигает свой заказ.
	if cmd.ActorRole == models.RoleCourier {
		if o.AssignedCourierID == nil || cmd.ActorID == nil || *o.AssignedCourierID != *cmd.ActorID {
			return nil, models.ErrUnauthorized
		}
	}

	upd := pgdispatch.TransitionUpdate{
		OrderID:       o.ID,
		FromStatus:    o.Status,
		ToStatus:      cmd.Target,
		StatusVersion: o.StatusVersion,
		ActorRole:     cmd.ActorRole,
		ActorID:       cmd.ActorID,
		Notifications: transitionNotifications(o, cmd.Target, cmd.Reason),
	}
	if cmd.Reason != "" {
		r := cmd.Reason
		upd.Note = &r
	}
	if cmd.Target == models.OrderStatusCancelled && o.AssignedCourierID != nil {
		upd.ReleaseCourier = true
	}

	ok, err := s.repo.ApplyTransition(ctx, upd)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Конкурентный переход выиграл; клиент должен перечитать заказ.
		return nil, models.ErrConflict
	}

	slog.Info("order transition",
		"order_id", o.ID, "from", o.Status, "to", cmd.Target, "role", cmd.ActorRole)

	return s.repo.GetOrderByID(ctx, o.ID)
}

// ApplyPaymentStatus is the inbound payment-processor report. Idempotent:
// повторное уведомление о том же статусе — no-op.
func (s *Service) ApplyPaymentStatus(ctx context.Context, orderID uint64, status string) error {
	switch status {
	case models.PaymentStatusPending, models.PaymentStatusConfirmed,
		models.PaymentStatusApproved, models.PaymentStatusRejected:
	default:
		return errors.Wrap(models.ErrValidation, "unknown payment status")
	}

	changed, err := s.repo.ApplyPaymentStatus(ctx, orderID, status)
	if err != nil {
		return err
	}
	if changed {
		slog.Info("payment status updated", "order_id", orderID, "status", status)
	}
	return nil
}

func (s *Service) ResetOrders(ctx context.Context, actorRole string) error {
	if actorRole != models.RoleAdmin {
		return models.ErrUnauthorized
	}
	slog.Warn("administrative full reset of orders")
	return s.repo.ResetOrders(ctx)
}

func transitionNotifications(o *models.Order, target, reason string) []*models.Notification {
	var body string
	switch target {
	case models.OrderStatusConfirmed:
		body = fmt.Sprintf("Order #%d confirmed, the kitchen is on it.", o.OrderNo)
	case models.OrderStatusPreparing:
		body = fmt.Sprintf("Order #%d is being prepared.", o.OrderNo)
	case models.OrderStatusInTransit:
		body = fmt.Sprintf("Order #%d is on its way.", o.OrderNo)
	case models.OrderStatusReady:
		body = fmt.Sprintf("Order #%d is ready and waiting for a courier.", o.OrderNo)
	case models.OrderStatusCancelled:
		body = fmt.Sprintf("Order #%d was cancelled.", o.OrderNo)
		if reason != "" {
			body += " Reason: " + reason
		}
	default:
		return nil
	}
	return []*models.Notification{{
		OrderID:       o.ID,
		RecipientRole: models.RoleCustomer,
		Phone:         o.CustomerPhone,
		Body:          body,
	}}
}
