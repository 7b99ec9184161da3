// README: Server-side location ingestion; validates coordinates and duplicates
// the movement-threshold check before touching the driver record.
package location

import (
	"context"
	"errors"
	"time"

	"reparto/internal/types"
)

var ErrBadCoordinate = errors.New("coordinates out of range")

// Records is the slice of the store the service needs; kept narrow so tests
// can run without Postgres/Redis.
type Records interface {
	UpsertDriverLocation(ctx context.Context, rec DriverLocation) error
	LastKnown(ctx context.Context, driverID types.ID) (*DriverLocation, error)
}

type Service struct {
	store           Records
	thresholdMeters float64
}

func NewService(store Records, thresholdMeters float64) *Service {
	return &Service{store: store, thresholdMeters: thresholdMeters}
}

type Update struct {
	DriverID types.ID
	Position types.Point
	Heading  float64
	Speed    float64
}

// Update applies one driver position to the persistent record. The device
// already movement-filters its samples, but the check is repeated here so a
// misbehaving client cannot flood the store; the caller learns via the
// returned flag whether the write was applied or suppressed.
func (s *Service) Update(ctx context.Context, u Update) (bool, error) {
	if err := ValidatePoint(u.Position.Lat, u.Position.Lng); err != nil {
		return false, ErrBadCoordinate
	}

	prev, err := s.store.LastKnown(ctx, u.DriverID)
	if err != nil {
		return false, err
	}
	if prev != nil {
		d, derr := DistanceMeters(prev.Position.Lat, prev.Position.Lng, u.Position.Lat, u.Position.Lng)
		if derr != nil {
			return false, ErrBadCoordinate
		}
		if d < s.thresholdMeters {
			return false, nil
		}
	}

	err = s.store.UpsertDriverLocation(ctx, DriverLocation{
		DriverID:  u.DriverID,
		Position:  u.Position,
		Heading:   u.Heading,
		Speed:     u.Speed,
		UpdatedAt: time.Now(),
		Available: true,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
