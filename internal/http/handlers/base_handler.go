// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"reparto/internal/modules/order"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeOrderError(c *gin.Context, err error) {
	switch err {
	case order.ErrBadRequest:
		writeError(c, http.StatusBadRequest, err.Error())
	case order.ErrNotFound:
		writeError(c, http.StatusNotFound, err.Error())
	case order.ErrInvalidState, order.ErrConflict:
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
