// README: Order management handlers: status transitions, driver assignment,
// offer fan-out.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"reparto/internal/http/middleware"
	"reparto/internal/modules/order"
	"reparto/internal/types"
)

type OrderHandler struct {
	order           *order.Service
	offerRadiusKm   float64
	offerMaxDrivers int
}

func NewOrderHandler(svc *order.Service, offerRadiusKm float64, offerMaxDrivers int) *OrderHandler {
	return &OrderHandler{order: svc, offerRadiusKm: offerRadiusKm, offerMaxDrivers: offerMaxDrivers}
}

func (h *OrderHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing order id")
		return
	}
	o, err := h.order.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{
		"order_id":     o.ID,
		"order_number": o.Number,
		"status":       o.Status,
		"driver_id":    o.DriverID,
		"route":        order.RouteDestination(o.Status),
		"next":         order.NextStatuses(o.Status),
	})
}

type transitionReq struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *OrderHandler) Transition(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing order id")
		return
	}
	var req transitionReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	actorType := middleware.CallerRole(c)
	if actorType == "" {
		actorType = "system"
	}
	var actorID *types.ID
	if uid := middleware.CallerUID(c); uid != "" {
		v := types.ID(uid)
		actorID = &v
	}

	err := h.order.Transition(c.Request.Context(), order.TransitionCommand{
		OrderID:   types.ID(id),
		To:        order.Status(req.Status),
		ActorType: actorType,
		ActorID:   actorID,
		Reason:    req.Reason,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order_id": id, "status": req.Status})
}

type assignReq struct {
	DriverID string `json:"driverId"`
}

func (h *OrderHandler) Assign(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing order id")
		return
	}
	var req assignReq
	if err := c.ShouldBindJSON(&req); err != nil || req.DriverID == "" {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	err := h.order.AssignDriver(c.Request.Context(), order.AssignCommand{
		OrderID:  types.ID(id),
		DriverID: types.ID(req.DriverID),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order_id": id, "driver_id": req.DriverID})
}

func (h *OrderHandler) Offer(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing order id")
		return
	}
	offered, err := h.order.OfferToNearest(c.Request.Context(), types.ID(id), h.offerRadiusKm, h.offerMaxDrivers)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"order_id": id, "offered": offered})
}
