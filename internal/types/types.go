// README: Common value objects shared across modules.
package types

// ID is an opaque entity identifier (orders, drivers, merchants, customers).
type ID string

// Point is a WGS84 coordinate pair in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Money struct {
	Amount   int64
	Currency string
}
