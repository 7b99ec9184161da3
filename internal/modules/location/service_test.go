// README: Server-side ingestion tests.
package location

import (
	"context"
	"sync"
	"testing"

	"reparto/internal/types"
)

type memRecords struct {
	mu   sync.Mutex
	rows map[types.ID]DriverLocation
}

func newMemRecords() *memRecords {
	return &memRecords{rows: make(map[types.ID]DriverLocation)}
}

func (m *memRecords) UpsertDriverLocation(_ context.Context, rec DriverLocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[rec.DriverID] = rec
	return nil
}

func (m *memRecords) LastKnown(_ context.Context, driverID types.ID) (*DriverLocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[driverID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func TestServiceUpdateRejectsOutOfRange(t *testing.T) {
	svc := NewService(newMemRecords(), 12)

	cases := []types.Point{
		{Lat: 91, Lng: 0},
		{Lat: -91, Lng: 0},
		{Lat: 0, Lng: 181},
		{Lat: 0, Lng: -181},
	}
	for _, p := range cases {
		if _, err := svc.Update(context.Background(), Update{DriverID: "d1", Position: p}); err != ErrBadCoordinate {
			t.Errorf("Update(%v) err = %v, want ErrBadCoordinate", p, err)
		}
	}
}

func TestServiceUpdateFirstWriteApplies(t *testing.T) {
	store := newMemRecords()
	svc := NewService(store, 12)

	applied, err := svc.Update(context.Background(), Update{DriverID: "d1", Position: types.Point{Lat: 10, Lng: 10}})
	if err != nil || !applied {
		t.Fatalf("applied=%v err=%v", applied, err)
	}
	if len(store.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(store.rows))
	}
}

func TestServiceUpdateSuppressesSmallMovement(t *testing.T) {
	store := newMemRecords()
	svc := NewService(store, 12)
	ctx := context.Background()

	svc.Update(ctx, Update{DriverID: "d1", Position: types.Point{Lat: 10, Lng: 10}})
	applied, err := svc.Update(ctx, Update{DriverID: "d1", Position: types.Point{Lat: 10.00005, Lng: 10}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if applied {
		t.Fatal("sub-threshold movement was applied")
	}
	if store.rows["d1"].Position.Lat != 10 {
		t.Fatal("stored row mutated by suppressed update")
	}
}

func TestServiceUpdateAppliesLargeMovement(t *testing.T) {
	store := newMemRecords()
	svc := NewService(store, 12)
	ctx := context.Background()

	svc.Update(ctx, Update{DriverID: "d1", Position: types.Point{Lat: 10, Lng: 10}})
	applied, err := svc.Update(ctx, Update{DriverID: "d1", Position: types.Point{Lat: 10.001, Lng: 10}})
	if err != nil || !applied {
		t.Fatalf("applied=%v err=%v", applied, err)
	}
	if store.rows["d1"].Position.Lat != 10.001 {
		t.Fatal("stored row not updated")
	}
}
