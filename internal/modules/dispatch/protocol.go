// README: Wire protocol for the real-time namespace: event names, room naming,
// and message payloads.
package dispatch

import (
	"encoding/json"
	"time"

	"reparto/internal/types"
)

// Client→server events.
const (
	EventDriverOnline      = "driver_online"
	EventStartDelivery     = "start_delivery"
	EventUpdatePosition    = "actualizar_posicion"
	EventTrackOrder        = "track_order"
	EventAdminTracking     = "admin_tracking"
	EventJoinAdminOrders   = "join_admin_orders"
	EventJoinMerchantRoom  = "join_merchant_room"
	EventJoinCustomerRoom  = "join_customer_room"
	EventDeliveryCompleted = "delivery_completed"
	EventNewOrderOffer     = "new_order_offer"
)

// Server→client events.
const (
	EventDriverPosition = "posicion_repartidor"
	EventAdminPosition  = "driver_position"
	EventOrderDelivered = "pedido_entregado"
	EventOrderOffer     = "orden_pendiente"
	EventOrderStatus    = "estado_pedido"
)

// Fixed broadcast rooms.
const (
	RoomAdminTracking = "admin:tracking"
	RoomAdminOrders   = "admin:orders"
)

func OrderRoom(id types.ID) string    { return "order:" + string(id) }
func DriverRoom(id types.ID) string   { return "driver:" + string(id) }
func MerchantRoom(id types.ID) string { return "merchant:" + string(id) }
func CustomerRoom(id types.ID) string { return "customer:" + string(id) }

// Role is the declared party behind a connection.
type Role string

const (
	RoleNone     Role = ""
	RoleDriver   Role = "driver"
	RoleCustomer Role = "customer"
	RoleMerchant Role = "merchant"
	RoleAdmin    Role = "admin"
)

// envelope is the inbound message frame: {"event": ..., "data": {...}}.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// outbound is the server→client frame.
type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type driverOnlinePayload struct {
	DriverID types.ID `json:"driverId"`
}

type startDeliveryPayload struct {
	OrderID  types.ID `json:"orderId"`
	DriverID types.ID `json:"driverId"`
}

type updatePositionPayload struct {
	DriverID types.ID `json:"driverId"`
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	OrderID  types.ID `json:"orderId,omitempty"`
	Heading  float64  `json:"heading,omitempty"`
	Speed    float64  `json:"speed,omitempty"`
}

type trackOrderPayload struct {
	OrderID types.ID `json:"orderId"`
}

type joinMerchantPayload struct {
	MerchantID types.ID `json:"merchantId"`
}

type joinCustomerPayload struct {
	UserID types.ID `json:"userId"`
}

type deliveryCompletedPayload struct {
	OrderID types.ID `json:"orderId"`
}

type newOrderOfferPayload struct {
	DriverID types.ID        `json:"driverId"`
	Order    json.RawMessage `json:"order"`
}

// PositionEvent is the payload relayed to order rooms and admin tracking.
type PositionEvent struct {
	DriverID  types.ID  `json:"driverId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Heading   float64   `json:"heading,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
