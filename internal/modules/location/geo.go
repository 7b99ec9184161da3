// README: Pure geographic computation helpers (great-circle distance, validation).
package location

import (
	"errors"
	"math"
)

const earthRadiusMeters = 6371000.0

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// ValidatePoint rejects NaN/Inf and out-of-range coordinates. Shared by the
// movement filter and the HTTP ingestion boundary so both reject the same
// inputs.
func ValidatePoint(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return ErrInvalidCoordinate
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return ErrInvalidCoordinate
	}
	return nil
}

// DistanceMeters returns the great-circle (haversine) distance in metres
// between two points in decimal degrees. Malformed input yields
// ErrInvalidCoordinate, never a silent NaN.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) (float64, error) {
	if err := ValidatePoint(lat1, lng1); err != nil {
		return 0, err
	}
	if err := ValidatePoint(lat2, lng2); err != nil {
		return 0, err
	}

	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c, nil
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
