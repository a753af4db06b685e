package notifier

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/BearBump/CourierDesk/internal/broker/messages"
	"github.com/BearBump/CourierDesk/internal/models"
)

type fakeRepo struct {
	mu sync.Mutex

	due    []*models.Notification
	orders map[uint64]*models.Order

	sent   []uint64
	failed []failedMark
}

type failedMark struct {
	id     uint64
	err    string
	nextAt time.Time
}

func (f *fakeRepo) ClaimDueNotifications(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.due
	f.due = nil
	return out, nil
}

func (f *fakeRepo) MarkNotificationSent(ctx context.Context, id uint64, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeRepo) MarkNotificationFailed(ctx context.Context, id uint64, sendErr string, nextAttemptAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, failedMark{id: id, err: sendErr, nextAt: nextAttemptAt})
	return nil
}

func (f *fakeRepo) GetOrderByID(ctx context.Context, id uint64) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

type fakeMessenger struct {
	mu   sync.Mutex
	errs map[string]error // phone -> error
	sent []string
}

func (f *fakeMessenger) Send(ctx context.Context, phone, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[phone]; ok {
		return err
	}
	f.sent = append(f.sent, phone)
	return nil
}

type fakeProducer struct {
	mu        sync.Mutex
	published [][]byte
	err       error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, value)
	return nil
}

func due(id uint64, phone string, failCount int32) *models.Notification {
	return &models.Notification{
		ID: id, OrderID: 1, RecipientRole: models.RoleCustomer,
		Phone: phone, Body: "order update",
		Status: models.NotificationStatusPending, FailCount: failCount,
	}
}

func testOrder() *models.Order {
	token := "tok-1"
	courierID := uint64(7)
	return &models.Order{
		ID: 1, OrderNo: 1001, Status: models.OrderStatusDelivered,
		AssignedCourierID: &courierID, TrackingToken: &token,
	}
}

func TestRunOnce_SendsAndPublishes(t *testing.T) {
	repo := &fakeRepo{
		due:    []*models.Notification{due(1, "+79001", 0), due(2, "+79002", 0)},
		orders: map[uint64]*models.Order{1: testOrder()},
	}
	m := &fakeMessenger{}
	p := &fakeProducer{}
	n := New(repo, m, p, "orders.status.updated")

	n.runOnce(context.Background())

	require.ElementsMatch(t, []uint64{1, 2}, repo.sent)
	require.Empty(t, repo.failed)
	require.Len(t, p.published, 2)

	var msg messages.OrderStatusUpdated
	require.NoError(t, json.Unmarshal(p.published[0], &msg))
	require.Equal(t, uint64(1001), msg.OrderNo)
	require.Equal(t, models.OrderStatusDelivered, msg.Status)

	st := n.Stats()
	require.Equal(t, int64(2), st.TotalClaimed)
	require.Equal(t, int64(2), st.TotalSent)
	require.Zero(t, st.TotalErrors)
}

func TestRunOnce_FailureSchedulesBackoff(t *testing.T) {
	repo := &fakeRepo{
		due:    []*models.Notification{due(1, "+79001", 0), due(2, "+79002", 2)},
		orders: map[uint64]*models.Order{1: testOrder()},
	}
	m := &fakeMessenger{errs: map[string]error{
		"+79001": errors.New("gateway timeout"),
		"+79002": errors.New("gateway timeout"),
	}}
	n := New(repo, m, nil, "")

	before := time.Now().UTC()
	n.runOnce(context.Background())

	require.Empty(t, repo.sent)
	require.Len(t, repo.failed, 2)
	for _, f := range repo.failed {
		require.Contains(t, f.err, "gateway timeout")
		switch f.id {
		case 1: // первый сбой -> +30s
			require.WithinDuration(t, before.Add(30*time.Second), f.nextAt, 2*time.Second)
		case 2: // третий сбой -> +10m
			require.WithinDuration(t, before.Add(10*time.Minute), f.nextAt, 2*time.Second)
		}
	}

	st := n.Stats()
	require.Equal(t, int64(2), st.TotalErrors)
	require.Contains(t, st.LastError, "gateway timeout")
}

func TestRunOnce_ProducerFailureDoesNotBlockSend(t *testing.T) {
	repo := &fakeRepo{
		due:    []*models.Notification{due(1, "+79001", 0)},
		orders: map[uint64]*models.Order{1: testOrder()},
	}
	p := &fakeProducer{err: errors.New("broker down")}
	n := New(repo, &fakeMessenger{}, p, "orders.status.updated")

	n.runOnce(context.Background())

	// Kafka — побочный канал: уведомление помечено отправленным.
	require.Equal(t, []uint64{1}, repo.sent)
	st := n.Stats()
	require.Equal(t, int64(1), st.TotalSent)
	require.Zero(t, st.TotalErrors)
}

func TestTrigger_ForcesCycle(t *testing.T) {
	repo := &fakeRepo{
		due:    []*models.Notification{due(1, "+79001", 0)},
		orders: map[uint64]*models.Order{1: testOrder()},
	}
	m := &fakeMessenger{}
	n := New(repo, m, nil, "").WithSettings(time.Hour, 10, 2, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = n.Run(ctx)
		close(done)
	}()

	n.Trigger()
	require.Eventually(t, func() bool {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		return len(repo.sent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestPlanner_BackoffLadder(t *testing.T) {
	p := NewPlanner(DefaultPlannerConfig())
	require.Equal(t, 30*time.Second, p.BackoffDelay(1))
	require.Equal(t, 2*time.Minute, p.BackoffDelay(2))
	require.Equal(t, 10*time.Minute, p.BackoffDelay(3))
	require.Equal(t, time.Hour, p.BackoffDelay(4))
	require.Equal(t, time.Hour, p.BackoffDelay(9))
}

func TestPlanner_ZeroConfigGetsDefaults(t *testing.T) {
	p := NewPlanner(PlannerConfig{Backoff1: 5 * time.Second})
	require.Equal(t, 5*time.Second, p.BackoffDelay(1))
	require.Equal(t, 2*time.Minute, p.BackoffDelay(2))
}
