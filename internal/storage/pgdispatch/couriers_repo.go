package pgdispatch

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/CourierDesk/internal/models"
)

const courierColumns = `
  id, name, phone, is_active, current_order_id, total_deliveries,
  last_lat, last_lng, last_located_at, created_at, updated_at`

func scanCourier(row pgx.Row) (*models.Courier, error) {
	var c models.Courier
	err := row.Scan(
		&c.ID, &c.Name, &c.Phone, &c.IsActive, &c.CurrentOrderID, &c.TotalDeliveries,
		&c.LastLat, &c.LastLng, &c.LastLocatedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan courier")
	}
	return &c, nil
}

func (s *Storage) CreateCourier(ctx context.Context, in models.CourierCreateInput) (*models.Courier, error) {
	now := time.Now().UTC()
	row := s.db.QueryRow(ctx, `
INSERT INTO couriers (name, phone, created_at, updated_at)
VALUES ($1,$2,$3,$3)
ON CONFLICT (phone) DO UPDATE SET updated_at = couriers.updated_at
RETURNING `+courierColumns, in.Name, in.Phone, now)
	return scanCourier(row)
}

func (s *Storage) GetCourierByID(ctx context.Context, id uint64) (*models.Courier, error) {
	row := s.db.QueryRow(ctx, `SELECT `+courierColumns+` FROM couriers WHERE id = $1`, id)
	return scanCourier(row)
}

// UpdateCourierLocation persists last-known coordinates. Safe to retry: the
// engine does not interpret the coordinates, only stores the latest pair.
func (s *Storage) UpdateCourierLocation(ctx context.Context, id uint64, lat, lng float64) error {
	tag, err := s.db.Exec(ctx, `
UPDATE couriers
SET last_lat = $2, last_lng = $3, last_located_at = now(), updated_at = now()
WHERE id = $1
`, id, lat, lng)
	if err != nil {
		return errors.Wrap(err, "update courier location")
	}
	if tag.RowsAffected() != 1 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Storage) SetCourierActive(ctx context.Context, id uint64, active bool) error {
	tag, err := s.db.Exec(ctx, `
UPDATE couriers SET is_active = $2, updated_at = now() WHERE id = $1
`, id, active)
	if err != nil {
		return errors.Wrap(err, "update courier active")
	}
	if tag.RowsAffected() != 1 {
		return models.ErrNotFound
	}
	return nil
}
