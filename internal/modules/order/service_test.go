// README: Order service tests (transition enforcement, fan-out, push, races).
package order

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"reparto/internal/modules/dispatch"
	"reparto/internal/modules/location"
	"reparto/internal/types"
)

type memStore struct {
	mu     sync.Mutex
	orders map[types.ID]*Order
	events []Event
	tokens map[types.ID]string
}

func newMemStore() *memStore {
	return &memStore{
		orders: make(map[types.ID]*Order),
		tokens: make(map[types.ID]string),
	}
}

func (m *memStore) put(o Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = &o
}

func (m *memStore) Get(_ context.Context, id types.ID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int, driverID *types.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from || o.StatusVersion != version {
		return false, nil
	}
	o.Status = to
	o.StatusVersion++
	if driverID != nil {
		d := *driverID
		o.DriverID = &d
	}
	return true, nil
}

func (m *memStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func (m *memStore) DeviceToken(_ context.Context, userID types.ID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[userID], nil
}

type relayCall struct {
	room  string
	event string
	data  any
}

type fakeRelay struct {
	mu     sync.Mutex
	calls  []relayCall
	online map[types.ID]bool
	offers map[types.ID][]any
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{online: make(map[types.ID]bool), offers: make(map[types.ID][]any)}
}

func (r *fakeRelay) EmitToRoom(room, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, relayCall{room: room, event: event, data: data})
}

func (r *fakeRelay) EmitToDriver(driverID types.ID, event string, data any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.online[driverID] {
		return false
	}
	r.offers[driverID] = append(r.offers[driverID], data)
	return true
}

func (r *fakeRelay) roomsEmitted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make([]string, len(r.calls))
	for i, c := range r.calls {
		rooms[i] = c.room
	}
	return rooms
}

type pushCall struct {
	token  string
	status Status
}

type fakePusher struct {
	mu       sync.Mutex
	statuses []pushCall
	offers   []string
}

func (p *fakePusher) NotifyCustomerStatus(_ context.Context, token string, _ *Order, to Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, pushCall{token: token, status: to})
	return nil
}

func (p *fakePusher) NotifyDriverOffer(_ context.Context, token string, _ *Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offers = append(p.offers, token)
	return nil
}

type fakeLocator struct {
	nearby []types.ID
}

func (l *fakeLocator) LastKnown(_ context.Context, _ types.ID) (*location.DriverLocation, error) {
	return nil, nil
}

func (l *fakeLocator) NearbyDrivers(_ context.Context, _ types.Point, _ float64) ([]types.ID, error) {
	return l.nearby, nil
}

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}

func testOrder(status Status) Order {
	return Order{
		ID:         "o1",
		Number:     "1042",
		Status:     status,
		MerchantID: "m1",
		CustomerID: "c1",
		Pickup:     types.Point{Lat: 19.43, Lng: -99.13},
		Dropoff:    types.Point{Lat: 19.44, Lng: -99.14},
	}
}

func TestTransitionFanOut(t *testing.T) {
	store := newMemStore()
	store.put(testOrder(StatusPending))
	relay := newFakeRelay()
	svc := NewService(store, relay, nil, nil, nil, testLog())

	err := svc.Transition(context.Background(), TransitionCommand{OrderID: "o1", To: StatusConfirmed, ActorType: "merchant"})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}

	o, _ := store.Get(context.Background(), "o1")
	if o.Status != StatusConfirmed {
		t.Fatalf("status = %s, want CONFIRMED", o.Status)
	}
	if len(store.events) != 1 || store.events[0].ToStatus != StatusConfirmed {
		t.Fatalf("unexpected audit events: %v", store.events)
	}

	want := []string{
		dispatch.OrderRoom("o1"),
		dispatch.MerchantRoom("m1"),
		dispatch.CustomerRoom("c1"),
		dispatch.RoomAdminOrders,
	}
	got := relay.roomsEmitted()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("rooms emitted = %v, want %v", got, want)
	}
	for _, c := range relay.calls {
		if c.event != dispatch.EventOrderStatus {
			t.Fatalf("event = %s, want %s", c.event, dispatch.EventOrderStatus)
		}
	}
}

func TestTransitionInvalidState(t *testing.T) {
	store := newMemStore()
	store.put(testOrder(StatusPickedUp))
	relay := newFakeRelay()
	svc := NewService(store, relay, nil, nil, nil, testLog())

	err := svc.Transition(context.Background(), TransitionCommand{OrderID: "o1", To: StatusCancelled, ActorType: "customer"})
	if err != ErrInvalidState {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
	o, _ := store.Get(context.Background(), "o1")
	if o.Status != StatusPickedUp {
		t.Fatalf("status mutated to %s on invalid transition", o.Status)
	}
	if len(relay.calls) != 0 {
		t.Fatalf("invalid transition relayed events: %v", relay.calls)
	}
}

func TestTransitionUnknownStatus(t *testing.T) {
	store := newMemStore()
	store.put(testOrder(StatusPending))
	svc := NewService(store, newFakeRelay(), nil, nil, nil, testLog())

	if err := svc.Transition(context.Background(), TransitionCommand{OrderID: "o1", To: "LIMBO"}); err != ErrBadRequest {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

func TestTransitionCustomerPush(t *testing.T) {
	store := newMemStore()
	store.put(testOrder(StatusConfirmed))
	store.tokens["c1"] = "tok-c1"
	pusher := &fakePusher{}
	svc := NewService(store, newFakeRelay(), pusher, nil, nil, testLog())

	if err := svc.Transition(context.Background(), TransitionCommand{OrderID: "o1", To: StatusPreparing, ActorType: "merchant"}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if len(pusher.statuses) != 1 || pusher.statuses[0].token != "tok-c1" || pusher.statuses[0].status != StatusPreparing {
		t.Fatalf("unexpected pushes: %v", pusher.statuses)
	}
}

func TestTransitionSilentStatusNoPush(t *testing.T) {
	store := newMemStore()
	store.put(testOrder(StatusPending))
	store.tokens["c1"] = "tok-c1"
	pusher := &fakePusher{}
	svc := NewService(store, newFakeRelay(), pusher, nil, nil, testLog())

	if err := svc.Transition(context.Background(), TransitionCommand{OrderID: "o1", To: StatusConfirmed, ActorType: "merchant"}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if len(pusher.statuses) != 0 {
		t.Fatalf("CONFIRMED triggered a customer push: %v", pusher.statuses)
	}
}

func TestAssignDriverLiveOffer(t *testing.T) {
	store := newMemStore()
	store.put(testOrder(StatusReady))
	relay := newFakeRelay()
	relay.online["d1"] = true
	pusher := &fakePusher{}
	svc := NewService(store, relay, pusher, nil, nil, testLog())

	if err := svc.AssignDriver(context.Background(), AssignCommand{OrderID: "o1", DriverID: "d1"}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	o, _ := store.Get(context.Background(), "o1")
	if o.Status != StatusDriverAssigned || o.DriverID == nil || *o.DriverID != "d1" {
		t.Fatalf("order after assign: %+v", o)
	}
	if len(relay.offers["d1"]) != 1 {
		t.Fatalf("driver offers = %v, want 1", relay.offers["d1"])
	}
	if len(pusher.offers) != 0 {
		t.Fatalf("fallback push fired despite live connection: %v", pusher.offers)
	}
}

func TestAssignDriverOfflineFallback(t *testing.T) {
	store := newMemStore()
	store.put(testOrder(StatusReady))
	store.tokens["d1"] = "tok-d1"
	relay := newFakeRelay()
	pusher := &fakePusher{}
	svc := NewService(store, relay, pusher, nil, nil, testLog())

	if err := svc.AssignDriver(context.Background(), AssignCommand{OrderID: "o1", DriverID: "d1"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(pusher.offers) != 1 || pusher.offers[0] != "tok-d1" {
		t.Fatalf("fallback offers = %v, want [tok-d1]", pusher.offers)
	}
}

func TestOfferToNearestCapsAtMax(t *testing.T) {
	store := newMemStore()
	store.put(testOrder(StatusReady))
	relay := newFakeRelay()
	relay.online["d1"] = true
	relay.online["d2"] = true
	relay.online["d4"] = true
	locator := &fakeLocator{nearby: []types.ID{"d1", "d2", "d3", "d4"}}
	svc := NewService(store, relay, nil, locator, nil, testLog())

	offered, err := svc.OfferToNearest(context.Background(), "o1", 3, 2)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	// d3 is offline; the cap counts deliveries, not candidates.
	if offered != 2 {
		t.Fatalf("offered = %d, want 2", offered)
	}
	if len(relay.offers["d4"]) != 0 {
		t.Fatalf("offer overflowed past the cap: %v", relay.offers)
	}
}

func TestConcurrentTransitions(t *testing.T) {
	store := newMemStore()
	store.put(testOrder(StatusConfirmed))
	svc := NewService(store, newFakeRelay(), nil, nil, nil, testLog())
	ctx := context.Background()

	// Two writers race the same transition; the optimistic version guard must
	// let exactly one through.
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.Transition(ctx, TransitionCommand{OrderID: "o1", To: StatusPreparing, ActorType: "system"})
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if err != ErrConflict && err != ErrInvalidState {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("successes = %d, want exactly 1", success)
	}
	o, _ := store.Get(ctx, "o1")
	if o.Status != StatusPreparing {
		t.Fatalf("unexpected final status %s", o.Status)
	}
}
