// Package http wires the gin router: public search and seat-map routes,
// authenticated passenger routes, and the operator surface.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/diegopirazabal/docproy/internal/http/handlers"
	"github.com/diegopirazabal/docproy/internal/http/middleware"
	"github.com/diegopirazabal/docproy/internal/infra"
	"github.com/diegopirazabal/docproy/internal/metrics"
	"github.com/diegopirazabal/docproy/internal/modules/booking"
	"github.com/diegopirazabal/docproy/internal/modules/fleet"
	"github.com/diegopirazabal/docproy/internal/modules/place"
	"github.com/diegopirazabal/docproy/internal/modules/trip"
)

type ServerDeps struct {
	Places  *place.Service
	Fleet   *fleet.Service
	Trips   *trip.Service
	Booking *booking.Service

	Verifier infra.TokenVerifier
	Metrics  *metrics.Metrics
}

func NewRouter(deps ServerDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(), middleware.Logging())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	placeHandler := handlers.NewPlaceHandler(deps.Places)
	fleetHandler := handlers.NewFleetHandler(deps.Fleet)
	tripHandler := handlers.NewTripHandler(deps.Trips)
	bookingHandler := handlers.NewBookingHandler(deps.Booking, deps.Trips)

	api := r.Group("/api")

	// Public catalog.
	api.GET("/places", placeHandler.List)
	api.GET("/places/:id", placeHandler.Get)
	api.GET("/trips", tripHandler.Search)
	api.GET("/trips/:id", tripHandler.Get)
	api.GET("/trips/:id/seats", bookingHandler.SeatMap)

	// Operator surface.
	api.POST("/places", placeHandler.Create)
	api.POST("/vehicles", fleetHandler.Register)
	api.GET("/vehicles", fleetHandler.List)
	api.GET("/vehicles/:id", fleetHandler.Get)
	api.POST("/vehicles/:id/inactivity", fleetHandler.ScheduleInactivity)
	api.POST("/trips", tripHandler.Assign)
	api.POST("/trips/:id/reassign", tripHandler.Reassign)
	api.POST("/trips/:id/cancel", tripHandler.Cancel)
	api.GET("/trips/:id/tickets", bookingHandler.ListByTrip)

	// Passenger surface behind Firebase identity.
	authed := api.Group("")
	authed.Use(middleware.Auth(deps.Verifier))
	authed.POST("/trips/:id/holds", bookingHandler.Hold)
	authed.POST("/trips/:id/holds/confirm", bookingHandler.Confirm)
	authed.POST("/trips/:id/purchase", bookingHandler.Purchase)
	authed.POST("/tickets/:id/refund", bookingHandler.Refund)
	authed.GET("/me/tickets", bookingHandler.History)

	return r
}
