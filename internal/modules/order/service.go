// README: Order service: validated status transitions plus real-time fan-out
// and customer push.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"reparto/internal/modules/dispatch"
	"reparto/internal/modules/location"
	"reparto/internal/types"
)

var (
	ErrInvalidState = errors.New("invalid state transition")
	ErrNotFound     = errors.New("order not found")
	ErrConflict     = errors.New("order state conflict")
	ErrBadRequest   = errors.New("bad request")
)

// Storage is the persistence contract; *Store implements it on Postgres.
type Storage interface {
	Get(ctx context.Context, id types.ID) (*Order, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int, driverID *types.ID) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
	DeviceToken(ctx context.Context, userID types.ID) (string, error)
}

// Relay is the slice of the dispatcher the service needs.
type Relay interface {
	EmitToRoom(room, event string, data any)
	EmitToDriver(driverID types.ID, event string, data any) bool
}

// Pusher sends FCM messages; nil disables push without error.
type Pusher interface {
	NotifyCustomerStatus(ctx context.Context, token string, o *Order, to Status) error
	NotifyDriverOffer(ctx context.Context, token string, o *Order) error
}

// DriverLocator reads live driver positions for ETA enrichment and offer
// fan-out.
type DriverLocator interface {
	LastKnown(ctx context.Context, driverID types.ID) (*location.DriverLocation, error)
	NearbyDrivers(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
}

// ETAEstimator estimates travel time; nil disables ETA enrichment.
type ETAEstimator interface {
	TravelEstimate(ctx context.Context, origin, destination types.Point) (time.Duration, string, error)
}

type Service struct {
	store   Storage
	relay   Relay
	push    Pusher
	locator DriverLocator
	eta     ETAEstimator
	log     *logrus.Entry
}

func NewService(store Storage, relay Relay, push Pusher, locator DriverLocator, eta ETAEstimator, log *logrus.Entry) *Service {
	return &Service{store: store, relay: relay, push: push, locator: locator, eta: eta, log: log}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

type TransitionCommand struct {
	OrderID   types.ID
	To        Status
	ActorType string
	ActorID   *types.ID
	Reason    string
}

type AssignCommand struct {
	OrderID  types.ID
	DriverID types.ID
}

// StatusEvent is the payload relayed to order/merchant/customer/admin rooms
// on every persisted transition.
type StatusEvent struct {
	OrderID     types.ID `json:"orderId"`
	OrderNumber string   `json:"orderNumber"`
	Status      Status   `json:"status"`
	Route       Route    `json:"route,omitempty"`
	DriverID    types.ID `json:"driverId,omitempty"`
	ETASeconds  int      `json:"etaSeconds,omitempty"`
	ETADistance string   `json:"etaDistance,omitempty"`
}

// OfferEvent is pushed to a single driver connection.
type OfferEvent struct {
	OrderID     types.ID    `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	Pickup      types.Point `json:"pickup"`
	Dropoff     types.Point `json:"dropoff"`
	Total       int64       `json:"total"`
}

// Transition applies one validated status change. An illegal transition is a
// hard validation error; the state machine itself is advisory, enforcement
// happens here before anything persists.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) error {
	to, known := Normalize(cmd.To)
	if !known {
		return ErrBadRequest
	}

	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if !CanTransition(o.Status, to) {
		return ErrInvalidState
	}

	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, to, o.StatusVersion, nil)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   to,
		ActorType:  cmd.ActorType,
		ActorID:    cmd.ActorID,
		CreatedAt:  time.Now(),
	})

	s.fanOut(ctx, o, to)
	s.notifyCustomer(ctx, o, to)
	return nil
}

// AssignDriver moves READY → DRIVER_ASSIGNED recording the driver, then
// offers the order to the driver's live connection, with FCM as fallback.
func (s *Service) AssignDriver(ctx context.Context, cmd AssignCommand) error {
	if cmd.DriverID == "" {
		return ErrBadRequest
	}

	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if !CanTransition(o.Status, StatusDriverAssigned) {
		return ErrInvalidState
	}

	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, StatusDriverAssigned, o.StatusVersion, &cmd.DriverID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   StatusDriverAssigned,
		ActorType:  "system",
		CreatedAt:  time.Now(),
	})

	o.DriverID = &cmd.DriverID
	s.fanOut(ctx, o, StatusDriverAssigned)
	s.notifyCustomer(ctx, o, StatusDriverAssigned)
	s.offerToDriver(ctx, o, cmd.DriverID)
	return nil
}

// OfferToNearest fans an offer out to the closest live drivers around the
// pickup point. Returns how many drivers received the offer.
func (s *Service) OfferToNearest(ctx context.Context, orderID types.ID, radiusKm float64, maxDrivers int) (int, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if o.Status != StatusReady {
		return 0, ErrInvalidState
	}

	ids, err := s.locator.NearbyDrivers(ctx, o.Pickup, radiusKm)
	if err != nil {
		return 0, err
	}

	offered := 0
	for _, id := range ids {
		if offered >= maxDrivers {
			break
		}
		if s.relay.EmitToDriver(id, dispatch.EventOrderOffer, offerEvent(o)) {
			offered++
		}
	}
	return offered, nil
}

// fanOut relays the status event to every interested room. Relay is fire and
// forget; membership at relay time decides who sees it.
func (s *Service) fanOut(ctx context.Context, o *Order, to Status) {
	evt := StatusEvent{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Status:      to,
		Route:       RouteDestination(to),
	}
	if o.DriverID != nil {
		evt.DriverID = *o.DriverID
	}
	s.enrichETA(ctx, o, &evt)

	s.relay.EmitToRoom(dispatch.OrderRoom(o.ID), dispatch.EventOrderStatus, evt)
	s.relay.EmitToRoom(dispatch.MerchantRoom(o.MerchantID), dispatch.EventOrderStatus, evt)
	s.relay.EmitToRoom(dispatch.CustomerRoom(o.CustomerID), dispatch.EventOrderStatus, evt)
	s.relay.EmitToRoom(dispatch.RoomAdminOrders, dispatch.EventOrderStatus, evt)
}

// enrichETA attaches a travel estimate from the driver's last known position
// toward the current route destination. Best-effort: no maps client, no
// driver, or no fix simply leaves the fields empty.
func (s *Service) enrichETA(ctx context.Context, o *Order, evt *StatusEvent) {
	if s.eta == nil || s.locator == nil || o.DriverID == nil {
		return
	}
	var dest types.Point
	switch RouteDestination(evt.Status) {
	case RouteMerchant:
		dest = o.Pickup
	case RouteCustomer:
		dest = o.Dropoff
	default:
		return
	}

	loc, err := s.locator.LastKnown(ctx, *o.DriverID)
	if err != nil || loc == nil {
		return
	}
	d, dist, err := s.eta.TravelEstimate(ctx, loc.Position, dest)
	if err != nil {
		s.log.WithError(err).WithField("order_id", o.ID).Debug("eta estimate failed")
		return
	}
	evt.ETASeconds = int(d / time.Second)
	evt.ETADistance = dist
}

// notifyCustomer sends the FCM push for customer-notifiable statuses. Push
// failure never fails the transition.
func (s *Service) notifyCustomer(ctx context.Context, o *Order, to Status) {
	if s.push == nil || !IsCustomerNotifiable(to) {
		return
	}
	token, err := s.store.DeviceToken(ctx, o.CustomerID)
	if err != nil || token == "" {
		return
	}
	if err := s.push.NotifyCustomerStatus(ctx, token, o, to); err != nil {
		s.log.WithError(err).WithField("order_id", o.ID).Warn("customer push failed")
	}
}

func (s *Service) offerToDriver(ctx context.Context, o *Order, driverID types.ID) {
	if s.relay.EmitToDriver(driverID, dispatch.EventOrderOffer, offerEvent(o)) {
		return
	}
	if s.push == nil {
		return
	}
	token, err := s.store.DeviceToken(ctx, driverID)
	if err != nil || token == "" {
		s.log.WithField("driver_id", driverID).Debug("offer: driver offline, no device token")
		return
	}
	if err := s.push.NotifyDriverOffer(ctx, token, o); err != nil {
		s.log.WithError(err).WithField("driver_id", driverID).Warn("driver offer push failed")
	}
}

func offerEvent(o *Order) OfferEvent {
	return OfferEvent{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		Pickup:      o.Pickup,
		Dropoff:     o.Dropoff,
		Total:       o.Total.Amount,
	}
}
