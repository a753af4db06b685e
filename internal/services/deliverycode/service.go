package deliverycode

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/CourierDesk/internal/models"
)

type Repository interface {
	GetOrderByID(ctx context.Context, id uint64) (*models.Order, error)
	IncrementCodeAttempt(ctx context.Context, orderID, courierID uint64) (int32, error)
	DisableCustomerPayment(ctx context.Context, phone, method string) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Config struct {
	// AttemptLimit is the ceiling after which the anti-fraud escalation fires.
	AttemptLimit int32
	// LenientMatch accepts codes within edit distance 1 of the stored code.
	// Default is exact comparison: the attempt budget is small, a lenient
	// match would also soften the escalation trigger.
	LenientMatch bool
	// RateLimitPerMinute caps validation calls per courier on top of the
	// attempt ceiling. 0 disables the limiter.
	RateLimitPerMinute int64
}

type Service struct {
	repo Repository
	rl   RateLimiter
	cfg  Config
}

func New(repo Repository, rl RateLimiter, cfg Config) *Service {
	if cfg.AttemptLimit <= 0 {
		cfg.AttemptLimit = 5
	}
	return &Service{repo: repo, rl: rl, cfg: cfg}
}

// Validate checks a courier-submitted proof-of-delivery code.
//
// On success the returned attempt count includes the successful submission;
// the caller proceeds to settlement. On mismatch the error carries the count,
// and reaching the ceiling permanently strips "cash" from the customer's
// allowed payment methods. Заказ при этом НЕ снимается с курьера.
func (s *Service) Validate(ctx context.Context, orderID, courierID uint64, submitted string) (int32, error) {
	o, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if o.DeliveryCode == nil || o.AssignedCourierID == nil || *o.AssignedCourierID != courierID {
		return 0, models.ErrUnauthorized
	}

	if s.rl != nil && s.cfg.RateLimitPerMinute > 0 {
		key := fmt.Sprintf("rl:code:%d:%s", courierID, time.Now().UTC().Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, key, s.cfg.RateLimitPerMinute, 70*time.Second)
		if err != nil {
			// Limiter недоступен — пропускаем, потолок попыток всё равно держит.
			slog.Warn("code rate limiter unavailable", "error", err.Error())
		} else if !allowed {
			slog.Warn("code validation rate limit exceeded", "courier_id", courierID, "count", n)
			return 0, models.ErrRateLimited
		}
	}

	attempts, err := s.repo.IncrementCodeAttempt(ctx, orderID, courierID)
	if err != nil {
		return 0, err
	}

	if !s.match(*o.DeliveryCode, submitted) {
		if attempts >= s.cfg.AttemptLimit {
			// Anti-fraud escalation: cash-on-delivery is revoked for this
			// customer. Idempotent past the ceiling.
			if err := s.repo.DisableCustomerPayment(ctx, o.CustomerPhone, models.PaymentMethodCash); err != nil {
				return attempts, err
			}
			slog.Warn("delivery code ceiling reached, cash disabled",
				"order_id", orderID, "courier_id", courierID, "attempts", attempts)
		}
		return attempts, &models.CodeMismatchError{Attempts: attempts}
	}

	return attempts, nil
}

func (s *Service) match(stored, submitted string) bool {
	if stored == submitted {
		return true
	}
	if s.cfg.LenientMatch {
		return editDistanceAtMost1(stored, submitted)
	}
	return false
}

// editDistanceAtMost1 reports whether two strings are within one substitution,
// insertion or deletion of each other.
func editDistanceAtMost1(a, b string) bool {
	if len(a) == len(b) {
		diff := 0
		for i := 0; i < len(a); i++ {
			if a[i] != b[i] {
				diff++
				if diff > 1 {
					return false
				}
			}
		}
		return true
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	if len(b)-len(a) != 1 {
		return false
	}
	// b is a plus one inserted byte
	i, j, used := 0, 0, false
	for i < len(a) && j < len(b) {
		if a[i] == b[j] {
			i++
			j++
			continue
		}
		if used {
			return false
		}
		used = true
		j++
	}
	return true
}
