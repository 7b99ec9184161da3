package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"reparto/internal/types"
)

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client *maps.Client
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// TravelEstimate returns the driving duration and human-readable distance
// from origin to destination. Used to attach an ETA to status events once a
// driver is en route.
func (s *RouteService) TravelEstimate(ctx context.Context, origin, destination types.Point) (time.Duration, string, error) {
	r := &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", origin.Lat, origin.Lng),
		Destination: fmt.Sprintf("%f,%f", destination.Lat, destination.Lng),
		Mode:        maps.TravelModeDriving,
		Language:    "es",
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, "", fmt.Errorf("maps api error: %w", err)
	}

	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, "", fmt.Errorf("no route found")
	}

	leg := routes[0].Legs[0]
	return leg.Duration, leg.Distance.HumanReadable, nil
}
