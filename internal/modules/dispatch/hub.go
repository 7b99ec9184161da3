// README: The dispatcher: room membership, the driver/order connection
// registry, and event relay. All shared maps are owned by the Hub and
// mutated only under its lock.
package dispatch

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"reparto/internal/types"
)

// Hub multiplexes every live connection into named rooms and keeps the
// ephemeral driver↔connection and order↔driver maps. All of this state dies
// with the process and is rebuilt as clients reconnect and re-announce.
type Hub struct {
	log *logrus.Entry

	mu           sync.Mutex
	clients      map[*Client]struct{}
	rooms        map[string]map[*Client]struct{}
	drivers      map[types.ID]*Client
	orderDrivers map[types.ID]types.ID
}

func NewHub(log *logrus.Entry) *Hub {
	return &Hub{
		log:          log,
		clients:      make(map[*Client]struct{}),
		rooms:        make(map[string]map[*Client]struct{}),
		drivers:      make(map[types.ID]*Client),
		orderDrivers: make(map[types.ID]types.ID),
	}
}

// Register creates a session for an accepted connection. identity is nil
// when no token verifier is configured (trusted/dev mode).
func (h *Hub) Register(c *Client, identity *Identity) {
	c.id = uuid.NewString()
	c.send = make(chan []byte, clientSendBuf)
	c.done = make(chan struct{})
	c.rooms = make(map[string]struct{})
	c.hub = h
	c.identity = identity

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.log.WithField("session", c.id).Debug("client connected")
}

// Unregister removes the session from every room it joined and, for driver
// sessions, drops the driver mapping. Membership disappears atomically: a
// relay running after Unregister returns can no longer reach this client.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	h.unregisterLocked(c)
	h.mu.Unlock()
	h.log.WithField("session", c.id).Debug("client disconnected")
}

func (h *Hub) unregisterLocked(c *Client) {
	delete(h.clients, c)
	for room := range c.rooms {
		h.leaveRoomLocked(c, room)
	}
	if c.role == RoleDriver && c.entityID != "" {
		if h.drivers[c.entityID] == c {
			delete(h.drivers, c.entityID)
		}
	}
}

func (h *Hub) joinRoomLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveRoomLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// EmitToRoom relays an event to every session currently in the room. Sessions
// joining afterwards do not receive it; there is no buffering or replay.
func (h *Hub) EmitToRoom(room, event string, data any) {
	msg, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		h.log.WithError(err).WithField("event", event).Warn("marshal failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[room] {
		if !c.enqueue(msg) {
			h.log.WithFields(logrus.Fields{"session": c.id, "room": room}).Warn("dropping message for slow client")
		}
	}
}

// Broadcast relays an event to every connection in the namespace.
func (h *Hub) Broadcast(event string, data any) {
	msg, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		h.log.WithError(err).WithField("event", event).Warn("marshal failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.enqueue(msg) {
			h.log.WithField("session", c.id).Warn("dropping broadcast for slow client")
		}
	}
}

// EmitToDriver relays an event to the single connection registered for a
// driver. Reports false (a no-op, not an error) when the driver is offline.
func (h *Hub) EmitToDriver(driverID types.ID, event string, data any) bool {
	msg, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		h.log.WithError(err).WithField("event", event).Warn("marshal failed")
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.drivers[driverID]
	if !ok {
		return false
	}
	if !c.enqueue(msg) {
		h.log.WithField("driver_id", driverID).Warn("dropping message for slow driver")
	}
	return true
}

// DriverForOrder resolves the driver currently assigned to an in-flight
// delivery, if the driver announced it this process lifetime.
func (h *Hub) DriverForOrder(orderID types.ID) (types.ID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.orderDrivers[orderID]
	return d, ok
}

// Stats is a point-in-time snapshot for the admin surface.
type Stats struct {
	Clients          int `json:"clients"`
	Rooms            int `json:"rooms"`
	DriversOnline    int `json:"driversOnline"`
	ActiveDeliveries int `json:"activeDeliveries"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		Clients:          len(h.clients),
		Rooms:            len(h.rooms),
		DriversOnline:    len(h.drivers),
		ActiveDeliveries: len(h.orderDrivers),
	}
}

// HandleMessage processes one inbound frame from a session. Frames arrive on
// the session's read pump; different sessions interleave arbitrarily, but
// relays into any one room keep the order in which they pass through here.
func (h *Hub) HandleMessage(c *Client, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.log.WithField("session", c.id).Debug("discarding malformed frame")
		return
	}

	switch env.Event {
	case EventDriverOnline:
		var p driverOnlinePayload
		if json.Unmarshal(env.Data, &p) != nil || p.DriverID == "" {
			return
		}
		h.driverOnline(c, p.DriverID)

	case EventStartDelivery:
		var p startDeliveryPayload
		if json.Unmarshal(env.Data, &p) != nil || p.OrderID == "" || p.DriverID == "" {
			return
		}
		h.startDelivery(c, p.OrderID, p.DriverID)

	case EventUpdatePosition:
		var p updatePositionPayload
		if json.Unmarshal(env.Data, &p) != nil || p.DriverID == "" {
			return
		}
		if !h.allow(c, RoleDriver, p.DriverID) {
			return
		}
		h.RelayPosition(p.DriverID, types.Point{Lat: p.Lat, Lng: p.Lng}, p.OrderID, p.Heading, p.Speed)

	case EventTrackOrder:
		var p trackOrderPayload
		if json.Unmarshal(env.Data, &p) != nil || p.OrderID == "" {
			return
		}
		h.mu.Lock()
		if c.role == RoleNone {
			c.role = RoleCustomer
		}
		h.joinRoomLocked(c, OrderRoom(p.OrderID))
		h.mu.Unlock()

	case EventJoinMerchantRoom:
		var p joinMerchantPayload
		if json.Unmarshal(env.Data, &p) != nil || p.MerchantID == "" {
			return
		}
		if !h.allow(c, RoleMerchant, p.MerchantID) {
			return
		}
		h.mu.Lock()
		c.role = RoleMerchant
		c.entityID = p.MerchantID
		h.joinRoomLocked(c, MerchantRoom(p.MerchantID))
		h.mu.Unlock()

	case EventJoinCustomerRoom:
		var p joinCustomerPayload
		if json.Unmarshal(env.Data, &p) != nil || p.UserID == "" {
			return
		}
		if !h.allow(c, RoleCustomer, p.UserID) {
			return
		}
		h.mu.Lock()
		c.role = RoleCustomer
		c.entityID = p.UserID
		h.joinRoomLocked(c, CustomerRoom(p.UserID))
		h.mu.Unlock()

	case EventAdminTracking:
		if !h.allow(c, RoleAdmin, "") {
			return
		}
		h.mu.Lock()
		c.role = RoleAdmin
		h.joinRoomLocked(c, RoomAdminTracking)
		h.mu.Unlock()

	case EventJoinAdminOrders:
		if !h.allow(c, RoleAdmin, "") {
			return
		}
		h.mu.Lock()
		c.role = RoleAdmin
		h.joinRoomLocked(c, RoomAdminOrders)
		h.mu.Unlock()

	case EventDeliveryCompleted:
		var p deliveryCompletedPayload
		if json.Unmarshal(env.Data, &p) != nil || p.OrderID == "" {
			return
		}
		h.EmitToRoom(OrderRoom(p.OrderID), EventOrderDelivered, map[string]any{"orderId": p.OrderID})
		h.mu.Lock()
		delete(h.orderDrivers, p.OrderID)
		h.mu.Unlock()

	case EventNewOrderOffer:
		var p newOrderOfferPayload
		if json.Unmarshal(env.Data, &p) != nil || p.DriverID == "" {
			return
		}
		if c.identity != nil && c.identity.Role != RoleAdmin {
			return
		}
		if !h.EmitToDriver(p.DriverID, EventOrderOffer, p.Order) {
			h.log.WithField("driver_id", p.DriverID).Debug("order offer: driver offline")
		}

	default:
		h.log.WithFields(logrus.Fields{"session": c.id, "event": env.Event}).Debug("unknown event")
	}
}

// driverOnline binds the session to a driver identity. A previous connection
// for the same driver is explicitly evicted, not silently superseded, so a
// stale socket can never keep receiving duplicate traffic.
func (h *Hub) driverOnline(c *Client, driverID types.ID) {
	if !h.allow(c, RoleDriver, driverID) {
		return
	}

	var stale *Client
	h.mu.Lock()
	if prev, ok := h.drivers[driverID]; ok && prev != c {
		stale = prev
		h.unregisterLocked(prev)
	}
	c.role = RoleDriver
	c.entityID = driverID
	h.drivers[driverID] = c
	h.joinRoomLocked(c, DriverRoom(driverID))
	h.mu.Unlock()

	if stale != nil {
		stale.evict()
		h.log.WithField("driver_id", driverID).Info("evicted stale driver connection")
	}
}

func (h *Hub) startDelivery(c *Client, orderID, driverID types.ID) {
	if !h.allow(c, RoleDriver, driverID) {
		return
	}
	h.mu.Lock()
	h.orderDrivers[orderID] = driverID
	h.joinRoomLocked(c, OrderRoom(orderID))
	h.mu.Unlock()
}

// RelayPosition fans a (pre-filtered, trusted) position out to the order room
// and, unconditionally, to admin tracking. No distance filtering happens
// here; that is the ingestion path's job.
func (h *Hub) RelayPosition(driverID types.ID, pos types.Point, orderID types.ID, heading, speed float64) {
	evt := PositionEvent{
		DriverID:  driverID,
		Lat:       pos.Lat,
		Lng:       pos.Lng,
		Heading:   heading,
		Speed:     speed,
		Timestamp: time.Now().UTC(),
	}
	if orderID != "" {
		h.EmitToRoom(OrderRoom(orderID), EventDriverPosition, evt)
	}
	h.EmitToRoom(RoomAdminTracking, EventAdminPosition, evt)
}

// EmitPosition lets the location ingestion path push surviving samples
// straight into the fan-out (location.Emitter).
func (h *Hub) EmitPosition(driverID types.ID, pos types.Point, orderID types.ID, heading, speed float64) {
	h.RelayPosition(driverID, pos, orderID, heading, speed)
}

// allow checks a client-declared role/id against the verified identity bound
// at upgrade time. With no verifier configured identity is nil and the
// original declare-yourself behavior applies.
func (h *Hub) allow(c *Client, role Role, id types.ID) bool {
	if c.identity == nil {
		return true
	}
	if c.identity.Role == RoleAdmin {
		return true
	}
	if c.identity.Role != role {
		h.log.WithFields(logrus.Fields{"session": c.id, "claimed": role}).Warn("role mismatch rejected")
		return false
	}
	if id != "" && c.identity.UID != string(id) {
		h.log.WithFields(logrus.Fields{"session": c.id, "claimed": id}).Warn("identity mismatch rejected")
		return false
	}
	return true
}
