// README: Order store backed by PostgreSQL.
package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"reparto/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `
        SELECT id, order_number, status, status_version,
               merchant_id, customer_id, driver_id,
               pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
               total, currency,
               created_at, assigned_at, picked_up_at, delivered_at, cancelled_at, cancellation_reason
        FROM orders
        WHERE id = $1`, string(id),
	)

	var o Order
	var driverID sql.NullString
	var assignedAt, pickedUpAt, deliveredAt, cancelledAt sql.NullTime
	var cancelReason sql.NullString

	err := row.Scan(
		&o.ID, &o.Number, &o.Status, &o.StatusVersion,
		&o.MerchantID, &o.CustomerID, &driverID,
		&o.Pickup.Lat, &o.Pickup.Lng, &o.Dropoff.Lat, &o.Dropoff.Lng,
		&o.Total.Amount, &o.Total.Currency,
		&o.CreatedAt, &assignedAt, &pickedUpAt, &deliveredAt, &cancelledAt, &cancelReason,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if driverID.Valid {
		d := types.ID(driverID.String)
		o.DriverID = &d
	}
	o.AssignedAt = toTimePtr(assignedAt)
	o.PickedUpAt = toTimePtr(pickedUpAt)
	o.DeliveredAt = toTimePtr(deliveredAt)
	o.CancelledAt = toTimePtr(cancelledAt)
	if cancelReason.Valid {
		o.CancelReason = &cancelReason.String
	}
	return &o, nil
}

// UpdateStatus applies a validated transition with optimistic locking on
// status_version. Returns false (no error) when another writer got there
// first.
func (s *Store) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, driverID *types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE orders
        SET status = $1,
            status_version = status_version + 1,
            driver_id = COALESCE($2, driver_id),
            assigned_at = CASE WHEN $1 = 'DRIVER_ASSIGNED' THEN NOW() ELSE assigned_at END,
            picked_up_at = CASE WHEN $1 = 'PICKED_UP' THEN NOW() ELSE picked_up_at END,
            delivered_at = CASE WHEN $1 = 'DELIVERED' THEN NOW() ELSE delivered_at END,
            cancelled_at = CASE WHEN $1 = 'CANCELLED' THEN NOW() ELSE cancelled_at END
        WHERE id = $3 AND status = $4 AND status_version = $5`,
		string(to),
		toStringPtr(driverID),
		string(id),
		string(from),
		version,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO order_status_events (
            order_id, from_status, to_status, actor_type, actor_id, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

// DeviceToken returns the registered push token for a user, or "" when the
// user has no device on record.
func (s *Store) DeviceToken(ctx context.Context, userID types.ID) (string, error) {
	row := s.db.QueryRow(ctx, `
        SELECT token FROM device_tokens WHERE user_id = $1`, string(userID),
	)
	var token string
	err := row.Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
