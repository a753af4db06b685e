package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/CourierDesk/internal/models"
	"github.com/BearBump/CourierDesk/internal/storage/pgdispatch"
)

type fakeRepo struct {
	order *models.Order

	settleIn  *pgdispatch.SettlementUpdate
	settleOut *pgdispatch.SettlementResult
	settleErr error

	ledger    []*models.BalanceTransaction
	appendErr error

	balanceReads int
}

func (f *fakeRepo) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	if f.order == nil || f.order.ID != id {
		return nil, models.ErrNotFound
	}
	cp := *f.order
	return &cp, nil
}

func (f *fakeRepo) SettleDelivery(ctx context.Context, upd pgdispatch.SettlementUpdate) (*pgdispatch.SettlementResult, error) {
	f.settleIn = &upd
	if f.settleErr != nil {
		return nil, f.settleErr
	}
	return f.settleOut, nil
}

func (f *fakeRepo) AppendTransaction(ctx context.Context, txn *models.BalanceTransaction, allowance int64) (int64, error) {
	if f.appendErr != nil {
		return 0, f.appendErr
	}
	var balance int64
	for _, t := range f.ledger {
		balance += t.Amount
	}
	if balance+txn.Amount < -allowance {
		return 0, models.ErrInsufficientBalance
	}
	f.ledger = append(f.ledger, txn)
	return balance + txn.Amount, nil
}

func (f *fakeRepo) GetBalance(ctx context.Context, courierID uint64, historyLimit int) (int64, []*models.BalanceTransaction, error) {
	f.balanceReads++
	var balance int64
	for _, t := range f.ledger {
		balance += t.Amount
	}
	return balance, f.ledger, nil
}

type fakeValidator struct {
	err   error
	calls int
}

func (f *fakeValidator) Validate(ctx context.Context, orderID, courierID uint64, submitted string) (int32, error) {
	f.calls++
	return 1, f.err
}

type memCache struct {
	data map[string][]byte
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok := m.data[key]
	return b, ok, nil
}
func (m *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.data[key] = value
	return nil
}
func (m *memCache) Del(ctx context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func cashOrder() *models.Order {
	courierID := uint64(7)
	code := "4821"
	return &models.Order{
		ID: 1, OrderNo: 1001, CustomerPhone: "+79001234567",
		SubtotalAmount: 1000000, DeliveryFeeAmount: 300000, TotalAmount: 1300000,
		PaymentMethod: models.PaymentMethodCash,
		Status: models.OrderStatusInTransit, StatusVersion: 5,
		AssignedCourierID: &courierID, DeliveryCode: &code,
	}
}

func TestConfirmDelivery_CashOrderCreditsFeeAndCollection(t *testing.T) {
	o := cashOrder()
	repo := &fakeRepo{order: o, settleOut: &pgdispatch.SettlementResult{
		Order: o, NewBalance: 1600000,
	}}
	svc := New(repo, &fakeValidator{}, nil, Config{DeliveryFee: 300000})

	res, err := svc.ConfirmDelivery(context.Background(), 1, 7, "4821")
	require.NoError(t, err)
	require.Equal(t, int64(1600000), res.NewBalance)

	require.Equal(t, int64(300000), repo.settleIn.DeliveryFee)
	// Наличный заказ: курьер уносит всю сумму заказа, журнал это фиксирует.
	require.Equal(t, int64(1300000), repo.settleIn.CashCollection)
	require.Len(t, repo.settleIn.Notifications, 1)
	require.Equal(t, "+79001234567", repo.settleIn.Notifications[0].Phone)
}

func TestConfirmDelivery_CardOrderNoCashCollection(t *testing.T) {
	o := cashOrder()
	o.PaymentMethod = models.PaymentMethodCard
	repo := &fakeRepo{order: o, settleOut: &pgdispatch.SettlementResult{Order: o}}
	svc := New(repo, &fakeValidator{}, nil, Config{DeliveryFee: 300000})

	_, err := svc.ConfirmDelivery(context.Background(), 1, 7, "4821")
	require.NoError(t, err)
	require.Zero(t, repo.settleIn.CashCollection)
}

func TestConfirmDelivery_PickupCashNoCollection(t *testing.T) {
	// Самовывоз (нулевая доставка) наличными: курьеру нечего уносить.
	o := cashOrder()
	o.DeliveryFeeAmount = 0
	o.TotalAmount = o.SubtotalAmount
	repo := &fakeRepo{order: o, settleOut: &pgdispatch.SettlementResult{Order: o}}
	svc := New(repo, &fakeValidator{}, nil, Config{DeliveryFee: 300000})

	_, err := svc.ConfirmDelivery(context.Background(), 1, 7, "4821")
	require.NoError(t, err)
	require.Zero(t, repo.settleIn.CashCollection)
}

func TestConfirmDelivery_CodeMismatchStopsSettlement(t *testing.T) {
	repo := &fakeRepo{order: cashOrder()}
	v := &fakeValidator{err: &models.CodeMismatchError{Attempts: 2}}
	svc := New(repo, v, nil, Config{DeliveryFee: 300000})

	_, err := svc.ConfirmDelivery(context.Background(), 1, 7, "0000")
	var mismatch *models.CodeMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Nil(t, repo.settleIn)
}

func TestConfirmDelivery_DoubleSettlementConflict(t *testing.T) {
	repo := &fakeRepo{order: cashOrder(), settleErr: models.ErrConflict}
	svc := New(repo, &fakeValidator{}, nil, Config{})

	_, err := svc.ConfirmDelivery(context.Background(), 1, 7, "4821")
	require.ErrorIs(t, err, models.ErrConflict)
}

func TestRegisterAdminPayment(t *testing.T) {
	repo := &fakeRepo{ledger: []*models.BalanceTransaction{
		{Type: models.TxnTypeDeliveryFee, Amount: 300000},
	}}
	svc := New(repo, &fakeValidator{}, nil, Config{BalanceAllowance: 100000})

	txn, err := svc.RegisterAdminPayment(context.Background(), 7, 350000, "week 35 payout")
	require.NoError(t, err)
	require.Equal(t, int64(-350000), txn.Amount)
	require.Equal(t, models.TxnTypeAdminPayment, txn.Type)

	// Следующая выплата ушла бы на -150000 при допуске 100000 — отказ, не клиппинг.
	_, err = svc.RegisterAdminPayment(context.Background(), 7, 100001, "week 36 payout")
	require.ErrorIs(t, err, models.ErrInsufficientBalance)
	require.Len(t, repo.ledger, 2)

	_, err = svc.RegisterAdminPayment(context.Background(), 7, 0, "zero")
	require.ErrorIs(t, err, models.ErrValidation)
}

func TestAdjustBalance_RequiresReference(t *testing.T) {
	repo := &fakeRepo{}
	svc := New(repo, &fakeValidator{}, nil, Config{BalanceAllowance: 1000000})

	_, err := svc.AdjustBalance(context.Background(), 7, -5000, "")
	require.ErrorIs(t, err, models.ErrValidation)

	txn, err := svc.AdjustBalance(context.Background(), 7, -5000, "damaged packaging refund")
	require.NoError(t, err)
	require.Equal(t, int64(-5000), txn.Amount)
	require.Equal(t, models.TxnTypeAdjustment, txn.Type)
}

func TestBalance_CacheAside(t *testing.T) {
	repo := &fakeRepo{ledger: []*models.BalanceTransaction{
		{Type: models.TxnTypeDeliveryFee, Amount: 300000},
	}}
	c := newMemCache()
	svc := New(repo, &fakeValidator{}, c, Config{BalanceCacheTTL: 30 * time.Second, BalanceAllowance: 1000000})

	v, err := svc.Balance(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, int64(300000), v.Balance)
	require.Equal(t, 1, repo.balanceReads)

	// Повторное чтение — из кэша.
	v, err = svc.Balance(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, int64(300000), v.Balance)
	require.Equal(t, 1, repo.balanceReads)

	// Любая запись в журнал инвалидирует кэш.
	_, err = svc.AdjustBalance(context.Background(), 7, -5000, "correction")
	require.NoError(t, err)

	v, err = svc.Balance(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, int64(295000), v.Balance)
	require.Equal(t, 2, repo.balanceReads)
}
