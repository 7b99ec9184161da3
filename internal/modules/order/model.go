// README: Order aggregate, status definitions, and the delivery state machine.
package order

import (
	"time"

	"reparto/internal/types"
)

type Status string

const (
	StatusPending        Status = "PENDING"
	StatusConfirmed      Status = "CONFIRMED"
	StatusPreparing      Status = "PREPARING"
	StatusReady          Status = "READY"
	StatusDriverAssigned Status = "DRIVER_ASSIGNED"
	StatusPickedUp       Status = "PICKED_UP"
	StatusInDelivery     Status = "IN_DELIVERY"
	// StatusOnTheWay is the legacy wire alias for IN_DELIVERY; older driver
	// apps still send it. Normalize collapses it before any table lookup.
	StatusOnTheWay  Status = "ON_THE_WAY"
	StatusDelivered Status = "DELIVERED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

type Order struct {
	ID            types.ID
	Number        string
	Status        Status
	StatusVersion int
	MerchantID    types.ID
	CustomerID    types.ID
	DriverID      *types.ID
	Pickup        types.Point
	Dropoff       types.Point
	Total         types.Money
	CreatedAt     time.Time
	AssignedAt    *time.Time
	PickedUpAt    *time.Time
	DeliveredAt   *time.Time
	CancelledAt   *time.Time
	CancelReason  *string
}

type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the order lifecycle (diagram) as code.
// Keys and values are normalized statuses only.
var AllowedTransitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusPreparing, StatusCancelled},
	StatusPreparing:      {StatusReady, StatusCancelled},
	StatusReady:          {StatusDriverAssigned, StatusCancelled},
	StatusDriverAssigned: {StatusPickedUp, StatusCancelled},
	StatusPickedUp:       {StatusInDelivery},
	StatusInDelivery:     {StatusDelivered},
}

// Normalize collapses the ON_THE_WAY alias and reports whether s is a known
// status. Unknown statuses come back unchanged with ok=false.
func Normalize(s Status) (Status, bool) {
	if s == StatusOnTheWay {
		return StatusInDelivery, true
	}
	switch s {
	case StatusPending, StatusConfirmed, StatusPreparing, StatusReady,
		StatusDriverAssigned, StatusPickedUp, StatusInDelivery,
		StatusDelivered, StatusCompleted, StatusCancelled:
		return s, true
	}
	return s, false
}

// NextStatuses returns the legal next statuses for s. Terminal and unknown
// statuses both yield an empty set; callers needing strict validation must
// check membership with Normalize first.
func NextStatuses(s Status) []Status {
	n, ok := Normalize(s)
	if !ok {
		return nil
	}
	return AllowedTransitions[n]
}

func CanTransition(from, to Status) bool {
	nf, ok := Normalize(from)
	if !ok {
		return false
	}
	nt, ok := Normalize(to)
	if !ok {
		return false
	}
	for _, s := range AllowedTransitions[nf] {
		if s == nt {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s has no outgoing transitions. Unknown statuses
// are not terminal; they are simply not part of the machine.
func IsTerminal(s Status) bool {
	n, ok := Normalize(s)
	if !ok {
		return false
	}
	switch n {
	case StatusDelivered, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// customerNotifiable lists the statuses that trigger a customer-facing push.
// Everything else still persists and reaches merchant/admin rooms, but must
// not wake the customer's phone.
var customerNotifiable = map[Status]struct{}{
	StatusPreparing:      {},
	StatusDriverAssigned: {},
	StatusPickedUp:       {},
	StatusInDelivery:     {},
	StatusDelivered:      {},
}

func IsCustomerNotifiable(s Status) bool {
	n, ok := Normalize(s)
	if !ok {
		return false
	}
	_, notifiable := customerNotifiable[n]
	return notifiable
}

// Route is the destination a driver should currently be heading toward.
type Route string

const (
	RouteNone     Route = ""
	RouteMerchant Route = "MERCHANT"
	RouteCustomer Route = "CUSTOMER"
)

// RouteDestination resolves where the driver is headed for a given status:
// toward the merchant until pickup, toward the customer until drop-off.
func RouteDestination(s Status) Route {
	n, ok := Normalize(s)
	if !ok {
		return RouteNone
	}
	switch n {
	case StatusConfirmed, StatusPreparing, StatusReady, StatusDriverAssigned:
		return RouteMerchant
	case StatusPickedUp, StatusInDelivery, StatusDelivered:
		return RouteCustomer
	}
	return RouteNone
}
