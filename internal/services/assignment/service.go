package assignment

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BearBump/CourierDesk/internal/models"
	"github.com/BearBump/CourierDesk/internal/storage/pgdispatch"
)

type Repository interface {
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
	ClaimOrder(ctx context.Context, upd pgdispatch.ClaimUpdate) (*models.Order, error)
	ReleaseOrder(ctx context.Context, orderID uint64) error
	ListAvailableOrders(ctx context.Context) ([]*models.Order, error)
	GetCourierByID(ctx context.Context, id uint64) (*models.Courier, error)
	CreateCourier(ctx context.Context, in models.CourierCreateInput) (*models.Courier, error)
	UpdateCourierLocation(ctx context.Context, id uint64, lat, lng float64) error
	SetCourierActive(ctx context.Context, id uint64, active bool) error
}

type Config struct {
	// CodeLength is the delivery-code length in digits, minimum 4.
	CodeLength int
	// TrackBaseURL prefixes tracking tokens in customer notifications.
	TrackBaseURL string
}

// Service is the only code path that ever binds or unbinds the
// order <-> courier relationship.
type Service struct {
	repo Repository
	cfg  Config
}

func New(repo Repository, cfg Config) *Service {
	if cfg.CodeLength < 4 {
		cfg.CodeLength = 4
	}
	return &Service{repo: repo, cfg: cfg}
}

// Claim atomically binds the order to the courier. Exactly one of N
// concurrent callers wins; losers get models.ErrAlreadyAssigned and should
// re-poll the available list rather than retry this order.
func (s *Service) Claim(ctx context.Context, orderID, courierID uint64) (*models.Order, error) {
	if orderID == 0 || courierID == 0 {
		return nil, errors.Wrap(models.ErrValidation, "orderId and courierId are required")
	}

	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return nil, err
	}
	token := uuid.NewString()

	// The notification body needs the order's contact snapshot; read it before
	// the claim. Phone and order number are immutable, so the read is safe
	// outside the claim transaction.
	cur, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	o, err := s.repo.ClaimOrder(ctx, pgdispatch.ClaimUpdate{
		OrderID:       orderID,
		CourierID:     courierID,
		DeliveryCode:  code,
		TrackingToken: token,
		Notifications: []*models.Notification{claimNotification(cur, code, s.TrackURL(token))},
	})
	if err != nil {
		return nil, err
	}

	slog.Info("order claimed", "order_id", orderID, "courier_id", courierID)
	return o, nil
}

// Release clears both sides of the assignment. Idempotent: releasing an
// unassigned order is a no-op.
func (s *Service) Release(ctx context.Context, orderID uint64) error {
	if orderID == 0 {
		return errors.Wrap(models.ErrValidation, "orderId is required")
	}
	return s.repo.ReleaseOrder(ctx, orderID)
}

// AvailableOrders is the courier polling endpoint. Read-only, runs outside a
// transaction; a stale snapshot only means a claim may lose the race.
func (s *Service) AvailableOrders(ctx context.Context) ([]*models.Order, error) {
	return s.repo.ListAvailableOrders(ctx)
}

func (s *Service) RegisterCourier(ctx context.Context, in models.CourierCreateInput) (*models.Courier, error) {
	if in.Name == "" || in.Phone == "" {
		return nil, errors.Wrap(models.ErrValidation, "name and phone are required")
	}
	return s.repo.CreateCourier(ctx, in)
}

func (s *Service) Courier(ctx context.Context, id uint64) (*models.Courier, error) {
	return s.repo.GetCourierByID(ctx, id)
}

// UpdateLocation persists last-known coordinates; safe to retry freely.
func (s *Service) UpdateLocation(ctx context.Context, courierID uint64, lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return errors.Wrap(models.ErrValidation, "coordinates out of range")
	}
	return s.repo.UpdateCourierLocation(ctx, courierID, lat, lng)
}

func (s *Service) SetActive(ctx context.Context, courierID uint64, active bool) error {
	return s.repo.SetCourierActive(ctx, courierID, active)
}

// TrackURL builds the public link placed in customer notifications.
func (s *Service) TrackURL(token string) string {
	if s.cfg.TrackBaseURL == "" {
		return token
	}
	return s.cfg.TrackBaseURL + "/" + token
}

// generateCode возвращает цифровой код заданной длины из crypto/rand.
// Ведущие нули допустимы: код — строка, не число.
func generateCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "generate delivery code")
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = '0' + b%10
	}
	return string(out), nil
}

func claimNotification(o *models.Order, code, trackURL string) *models.Notification {
	body := fmt.Sprintf(
		"Order #%d is on its way. Give the courier code %s on delivery. Track it here: %s",
		o.OrderNo, code, trackURL)
	return &models.Notification{
		OrderID:       o.ID,
		RecipientRole: models.RoleCustomer,
		Phone:         o.CustomerPhone,
		Body:          body,
	}
}
