// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"reparto/internal/http/handlers"
	"reparto/internal/http/middleware"
	"reparto/internal/infra"
	"reparto/internal/modules/dispatch"
	"reparto/internal/modules/location"
	"reparto/internal/modules/order"
)

type RouterDeps struct {
	Dispatch        *dispatch.Server
	Order           *order.Service
	Location        *location.Service
	Verifier        infra.TokenVerifier
	Log             *logrus.Entry
	OfferRadiusKm   float64
	OfferMaxDrivers int
}

func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	// Real-time surface. /emit is the trusted bridge for the order API;
	// it is expected to be reachable only from inside the deployment.
	r.GET("/ws", deps.Dispatch.HandleWS)
	r.POST("/emit", deps.Dispatch.HandleEmit)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	orderHandler := handlers.NewOrderHandler(deps.Order, deps.OfferRadiusKm, deps.OfferMaxDrivers)
	api.GET("/orders/:id", orderHandler.Get)
	api.POST("/orders/:id/status", orderHandler.Transition)
	api.POST("/orders/:id/assign", orderHandler.Assign)
	api.POST("/orders/:id/offer", orderHandler.Offer)

	locationHandler := handlers.NewLocationHandler(deps.Location)
	api.PUT("/drivers/:id/location", locationHandler.Update)

	api.GET("/admin/dispatch/stats", deps.Dispatch.HandleStats)

	return r
}
