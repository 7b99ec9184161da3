// README: Driver location record persisted per driver.
package location

import (
	"time"

	"reparto/internal/types"
)

type DriverLocation struct {
	DriverID  types.ID
	Position  types.Point
	Heading   float64
	Speed     float64
	UpdatedAt time.Time
	Available bool
}
