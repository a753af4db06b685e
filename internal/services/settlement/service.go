package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/CourierDesk/internal/cache"
	"github.com/BearBump/CourierDesk/internal/models"
	"github.com/BearBump/CourierDesk/internal/storage/pgdispatch"
)

type Repository interface {
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
	SettleDelivery(ctx context.Context, upd pgdispatch.SettlementUpdate) (*pgdispatch.SettlementResult, error)
	AppendTransaction(ctx context.Context, txn *models.BalanceTransaction, allowance int64) (int64, error)
	GetBalance(ctx context.Context, courierID uint64, historyLimit int) (int64, []*models.BalanceTransaction, error)
}

// CodeValidator is the delivery-code service; settlement never reads the code
// itself.
type CodeValidator interface {
	Validate(ctx context.Context, orderID, courierID uint64, submitted string) (int32, error)
}

type Config struct {
	// DeliveryFee is the fixed per-delivery credit in minor units.
	DeliveryFee int64
	// BalanceAllowance is how far below zero a courier balance may go before
	// admin payments are rejected.
	BalanceAllowance int64
	// BalanceCacheTTL of 0 disables the balance cache.
	BalanceCacheTTL time.Duration
}

type Service struct {
	repo  Repository
	codes CodeValidator
	cache cache.BytesCache
	cfg   Config
}

func New(repo Repository, codes CodeValidator, c cache.BytesCache, cfg Config) *Service {
	return &Service{repo: repo, codes: codes, cache: c, cfg: cfg}
}

// ConfirmDelivery validates the proof-of-delivery code and, on match, settles
// the order: the DELIVERED move, the ledger credits and the assignment release
// commit as one transaction in the storage layer.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID, courierID uint64, code string) (*pgdispatch.SettlementResult, error) {
	if _, err := s.codes.Validate(ctx, orderID, courierID, code); err != nil {
		return nil, err
	}

	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	upd := pgdispatch.SettlementUpdate{
		OrderID:     orderID,
		CourierID:   courierID,
		DeliveryFee: s.cfg.DeliveryFee,
		Notifications: []*models.Notification{{
			OrderID:       o.ID,
			RecipientRole: models.RoleCustomer,
			Phone:         o.CustomerPhone,
			Body:          fmt.Sprintf("Order #%d delivered. Enjoy!", o.OrderNo),
		}},
	}
	// Cash-on-delivery home orders: the courier walks away holding the order
	// total, the ledger must say so.
	if o.PaymentMethod == models.PaymentMethodCash && o.DeliveryFeeAmount > 0 {
		upd.CashCollection = o.TotalAmount
	}

	res, err := s.repo.SettleDelivery(ctx, upd)
	if err != nil {
		return nil, err
	}

	s.invalidateBalance(ctx, courierID)
	slog.Info("delivery settled",
		"order_id", orderID, "courier_id", courierID,
		"delivery_fee", s.cfg.DeliveryFee, "cash_collection", upd.CashCollection)
	return res, nil
}

// RegisterAdminPayment records a payout to the courier as a negative ledger
// entry. Rejected (not clamped) when it would push the balance past the
// configured allowance.
func (s *Service) RegisterAdminPayment(ctx context.Context, courierID uint64, amount int64, reference string) (*models.BalanceTransaction, error) {
	if amount <= 0 {
		return nil, errors.Wrap(models.ErrValidation, "payment amount must be positive")
	}
	txn := &models.BalanceTransaction{
		CourierID: courierID,
		Type:      models.TxnTypeAdminPayment,
		Amount:    -amount,
		Reference: reference,
	}
	if _, err := s.repo.AppendTransaction(ctx, txn, s.cfg.BalanceAllowance); err != nil {
		return nil, err
	}
	s.invalidateBalance(ctx, courierID)
	return txn, nil
}

// AdjustBalance appends a signed correction entry. Ledger rows are never
// edited; this is the only correction mechanism.
func (s *Service) AdjustBalance(ctx context.Context, courierID uint64, amount int64, reference string) (*models.BalanceTransaction, error) {
	if amount == 0 {
		return nil, errors.Wrap(models.ErrValidation, "adjustment amount must be non-zero")
	}
	if reference == "" {
		return nil, errors.Wrap(models.ErrValidation, "adjustment reference is required")
	}
	txn := &models.BalanceTransaction{
		CourierID: courierID,
		Type:      models.TxnTypeAdjustment,
		Amount:    amount,
		Reference: reference,
	}
	if _, err := s.repo.AppendTransaction(ctx, txn, s.cfg.BalanceAllowance); err != nil {
		return nil, err
	}
	s.invalidateBalance(ctx, courierID)
	return txn, nil
}

type BalanceView struct {
	Balance      int64                        `json:"balance"`
	Transactions []*models.BalanceTransaction `json:"transactions"`
}

// Balance returns the derived balance plus recent history, cache-aside: кэш
// не обязан быть всегда, при промахе читаем из БД и кладём обратно.
func (s *Service) Balance(ctx context.Context, courierID uint64) (*BalanceView, error) {
	key := balanceKey(courierID)

	if s.cache != nil && s.cfg.BalanceCacheTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var v BalanceView
			if json.Unmarshal(b, &v) == nil {
				return &v, nil
			}
		}
	}

	balance, txns, err := s.repo.GetBalance(ctx, courierID, 50)
	if err != nil {
		return nil, err
	}
	v := &BalanceView{Balance: balance, Transactions: txns}

	if s.cache != nil && s.cfg.BalanceCacheTTL > 0 {
		if b, err := json.Marshal(v); err == nil {
			_ = s.cache.Set(ctx, key, b, s.cfg.BalanceCacheTTL)
		}
	}
	return v, nil
}

func (s *Service) invalidateBalance(ctx context.Context, courierID uint64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, balanceKey(courierID)); err != nil {
		slog.Warn("balance cache invalidation failed", "courier_id", courierID, "error", err.Error())
	}
}

func balanceKey(courierID uint64) string {
	return fmt.Sprintf("courier:%d:balance", courierID)
}
