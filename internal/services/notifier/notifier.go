package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/BearBump/CourierDesk/internal/broker/messages"
	"github.com/BearBump/CourierDesk/internal/integrations/messenger"
	"github.com/BearBump/CourierDesk/internal/models"
)

type Repository interface {
	ClaimDueNotifications(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Notification, error)
	MarkNotificationSent(ctx context.Context, id uint64, sentAt time.Time) error
	MarkNotificationFailed(ctx context.Context, id uint64, sendErr string, nextAttemptAt time.Time) error
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Notifier drains the notification outbox: claims due rows with a lease,
// отправляет сообщение во внешний мессенджер, публикует событие в Kafka и
// помечает строку. Сбой отправки только откладывает повтор.
type Notifier struct {
	repo      Repository
	messenger messenger.Client
	producer  Producer

	topic string

	planner *Planner

	pollInterval time.Duration
	batchSize    int
	concurrency  int
	lease        time.Duration

	triggerCh chan struct{}

	startedAtUnixNano int64
	lastCycleUnixNano atomic.Int64
	totalClaimed      atomic.Int64
	totalSent         atomic.Int64
	totalErrors       atomic.Int64
	inFlight          atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(repo Repository, m messenger.Client, producer Producer, topic string) *Notifier {
	return &Notifier{
		repo: repo, messenger: m, producer: producer, topic: topic,
		planner:           NewPlanner(DefaultPlannerConfig()),
		pollInterval:      2 * time.Second,
		batchSize:         100,
		concurrency:       10,
		lease:             60 * time.Second,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (n *Notifier) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration) *Notifier {
	if pollInterval > 0 {
		n.pollInterval = pollInterval
	}
	if batchSize > 0 {
		n.batchSize = batchSize
	}
	if concurrency > 0 {
		n.concurrency = concurrency
	}
	if lease > 0 {
		n.lease = lease
	}
	return n
}

func (n *Notifier) WithPlanner(cfg PlannerConfig) *Notifier {
	n.planner = NewPlanner(cfg)
	return n
}

// Trigger forces an immediate drain cycle (best-effort, non-blocking).
func (n *Notifier) Trigger() {
	select {
	case n.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt    time.Time  `json:"startedAt"`
	LastCycleAt  *time.Time `json:"lastCycleAt,omitempty"`
	TotalClaimed int64      `json:"totalClaimed"`
	TotalSent    int64      `json:"totalSent"`
	TotalErrors  int64      `json:"totalErrors"`
	InFlight     int64      `json:"inFlight"`
	LastError    string     `json:"lastError,omitempty"`
}

func (n *Notifier) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, n.startedAtUnixNano).UTC(),
		TotalClaimed: n.totalClaimed.Load(),
		TotalSent:    n.totalSent.Load(),
		TotalErrors:  n.totalErrors.Load(),
		InFlight:     n.inFlight.Load(),
	}
	if v := n.lastCycleUnixNano.Load(); v > 0 {
		t := time.Unix(0, v).UTC()
		st.LastCycleAt = &t
	}
	n.lastErrorMu.Lock()
	st.LastError = n.lastError
	n.lastErrorMu.Unlock()
	return st
}

func (n *Notifier) Run(ctx context.Context) error {
	t := time.NewTicker(n.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			n.runOnce(ctx)
		case <-n.triggerCh:
			n.runOnce(ctx)
		}
	}
}

func (n *Notifier) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	n.lastCycleUnixNano.Store(now.UnixNano())

	items, err := n.repo.ClaimDueNotifications(ctx, now, n.batchSize, n.lease)
	if err != nil {
		slog.Error("claim due notifications", "error", err.Error())
		n.recordError(err)
		return
	}
	n.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, n.concurrency)
	var wg sync.WaitGroup
	for _, item := range items {
		sem <- struct{}{}
		wg.Add(1)
		nt := item
		n.inFlight.Add(1)
		go func() {
			defer func() {
				n.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := n.processOne(ctx, nt); err != nil {
				n.totalErrors.Add(1)
				n.recordError(err)
				slog.Error("process notification", "notification_id", nt.ID, "error", err.Error())
			}
		}()
	}
	wg.Wait()
}

func (n *Notifier) processOne(ctx context.Context, nt *models.Notification) error {
	now := time.Now().UTC()

	if err := n.messenger.Send(ctx, nt.Phone, nt.Body); err != nil {
		// Уведомления best-effort: фиксируем сбой и откладываем повтор,
		// исходную транзакцию это не касается.
		nextAt := now.Add(n.planner.BackoffDelay(nt.FailCount + 1))
		if mErr := n.repo.MarkNotificationFailed(ctx, nt.ID, err.Error(), nextAt); mErr != nil {
			return mErr
		}
		return errors.Wrap(err, "send notification")
	}

	if err := n.repo.MarkNotificationSent(ctx, nt.ID, now); err != nil {
		return err
	}
	n.totalSent.Add(1)

	n.publishStatusEvent(ctx, nt, now)
	return nil
}

// publishStatusEvent mirrors the shipped notification to Kafka. Failures are
// logged only: the broker is a side channel, not part of the consistency
// boundary.
func (n *Notifier) publishStatusEvent(ctx context.Context, nt *models.Notification, now time.Time) {
	if n.producer == nil || n.topic == "" {
		return
	}

	o, err := n.repo.GetOrderByID(ctx, nt.OrderID)
	if err != nil {
		slog.Warn("load order for status event", "order_id", nt.OrderID, "error", err.Error())
		return
	}

	msg := messages.OrderStatusUpdated{
		OrderID:   o.ID,
		OrderNo:   o.OrderNo,
		Status:    o.Status,
		ChangedAt: now,
		CourierID: o.AssignedCourierID,
	}
	if o.TrackingToken != nil {
		msg.TrackingToken = *o.TrackingToken
	}

	b, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("marshal status event", "order_id", o.ID, "error", err.Error())
		return
	}

	key := []byte(fmt.Sprintf("%d", o.ID))
	// Kafka может быть не готова сразу после старта docker compose,
	// поэтому небольшой retry.
	for i := 0; i < 5; i++ {
		if err = n.producer.Publish(ctx, n.topic, key, b); err == nil {
			return
		}
		time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
	}
	slog.Warn("publish status event", "order_id", o.ID, "error", err.Error())
}

func (n *Notifier) recordError(err error) {
	n.lastErrorMu.Lock()
	n.lastError = err.Error()
	n.lastErrorMu.Unlock()
}
