// README: Driver location ingestion endpoint.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"reparto/internal/http/middleware"
	"reparto/internal/modules/location"
	"reparto/internal/types"
)

type LocationHandler struct {
	location *location.Service
}

func NewLocationHandler(svc *location.Service) *LocationHandler {
	return &LocationHandler{location: svc}
}

type locationUpdateReq struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Heading   float64 `json:"heading"`
	Speed     float64 `json:"speed"`
}

// Update persists one driver position. The response reports whether the
// write was applied or suppressed by the movement threshold.
func (h *LocationHandler) Update(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing id")
		return
	}
	// Only the authenticated driver may update their own location.
	if role := middleware.CallerRole(c); role != "" && role != "driver" {
		writeError(c, http.StatusForbidden, "forbidden: driver role required")
		return
	}
	if uid := middleware.CallerUID(c); uid != "" && uid != id {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}

	var req locationUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	applied, err := h.location.Update(c.Request.Context(), location.Update{
		DriverID: types.ID(id),
		Position: types.Point{Lat: req.Latitude, Lng: req.Longitude},
		Heading:  req.Heading,
		Speed:    req.Speed,
	})
	if err == location.ErrBadCoordinate {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"applied": applied})
}
