// README: Driver location store backed by PostgreSQL rows and a Redis GEO mirror.
package location

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"reparto/internal/types"
)

const driverGeoKey = "location:drivers"

type Store struct {
	db    *pgxpool.Pool
	redis *redis.Client
	log   *logrus.Entry
}

func NewStore(db *pgxpool.Pool, rdb *redis.Client, log *logrus.Entry) *Store {
	return &Store{db: db, redis: rdb, log: log}
}

// UpsertDriverLocation writes the durable per-driver row and mirrors the live
// position into the Redis GEO set used for nearby-driver queries. updated_at
// never moves backwards: a stale sample (older timestamp) leaves the row
// untouched. The GEO mirror is best-effort; a Redis failure is logged and
// does not fail the durable write.
func (s *Store) UpsertDriverLocation(ctx context.Context, rec DriverLocation) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO driver_locations (driver_id, lat, lng, heading, speed, updated_at, available)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (driver_id) DO UPDATE
        SET lat = EXCLUDED.lat,
            lng = EXCLUDED.lng,
            heading = EXCLUDED.heading,
            speed = EXCLUDED.speed,
            updated_at = EXCLUDED.updated_at,
            available = EXCLUDED.available
        WHERE driver_locations.updated_at <= EXCLUDED.updated_at`,
		string(rec.DriverID),
		rec.Position.Lat, rec.Position.Lng,
		rec.Heading, rec.Speed,
		rec.UpdatedAt, rec.Available,
	)
	if err != nil {
		return err
	}

	if geoErr := s.redis.GeoAdd(ctx, driverGeoKey, &redis.GeoLocation{
		Name:      string(rec.DriverID),
		Longitude: rec.Position.Lng,
		Latitude:  rec.Position.Lat,
	}).Err(); geoErr != nil {
		s.log.WithError(geoErr).WithField("driver_id", rec.DriverID).Warn("geo mirror update failed")
	}
	return nil
}

// LastKnown returns the stored record for a driver, or nil when the driver
// has never reported a position.
func (s *Store) LastKnown(ctx context.Context, driverID types.ID) (*DriverLocation, error) {
	row := s.db.QueryRow(ctx, `
        SELECT driver_id, lat, lng, heading, speed, updated_at, available
        FROM driver_locations
        WHERE driver_id = $1`, string(driverID),
	)
	var rec DriverLocation
	err := row.Scan(
		&rec.DriverID, &rec.Position.Lat, &rec.Position.Lng,
		&rec.Heading, &rec.Speed, &rec.UpdatedAt, &rec.Available,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetAvailable flips the availability flag and, when a driver goes offline,
// drops them from the GEO set so they stop appearing in nearby queries.
func (s *Store) SetAvailable(ctx context.Context, driverID types.ID, available bool) error {
	_, err := s.db.Exec(ctx, `
        UPDATE driver_locations SET available = $1 WHERE driver_id = $2`,
		available, string(driverID),
	)
	if err != nil {
		return err
	}
	if !available {
		if geoErr := s.redis.ZRem(ctx, driverGeoKey, string(driverID)).Err(); geoErr != nil {
			s.log.WithError(geoErr).WithField("driver_id", driverID).Warn("geo mirror removal failed")
		}
	}
	return nil
}

// NearbyDrivers returns driver ids within radiusKm of p, closest first.
func (s *Store) NearbyDrivers(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := s.redis.GeoSearch(ctx, driverGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}
