// Package handlers maps HTTP requests onto module services and module
// errors onto status codes.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/diegopirazabal/docproy/internal/modules/booking"
	"github.com/diegopirazabal/docproy/internal/modules/fleet"
	"github.com/diegopirazabal/docproy/internal/modules/place"
	"github.com/diegopirazabal/docproy/internal/modules/trip"
	"github.com/diegopirazabal/docproy/internal/payment"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

// respondError translates module sentinel errors into status codes. Every
// unknown error is a 500 with the detail kept out of the response.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, place.ErrBadRequest),
		errors.Is(err, fleet.ErrBadRequest),
		errors.Is(err, trip.ErrBadRequest),
		errors.Is(err, booking.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, place.ErrNotFound),
		errors.Is(err, fleet.ErrNotFound),
		errors.Is(err, trip.ErrNotFound),
		errors.Is(err, booking.ErrNotFound),
		errors.Is(err, booking.ErrReservationNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, booking.ErrOwnershipMismatch):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, payment.ErrDeclined),
		errors.Is(err, payment.ErrRefundFailed):
		writeError(c, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, place.ErrDuplicateName),
		errors.Is(err, fleet.ErrDuplicatePlate),
		errors.Is(err, fleet.ErrInvalidState),
		errors.Is(err, trip.ErrInvalidState),
		errors.Is(err, trip.ErrConflict),
		errors.Is(err, trip.ErrNoVehicleAvailable),
		errors.Is(err, trip.ErrInsufficientCapacity),
		errors.Is(err, booking.ErrInvalidState),
		errors.Is(err, booking.ErrSeatUnavailable),
		errors.Is(err, booking.ErrHoldLimitExceeded),
		errors.Is(err, booking.ErrRefundWindowClosed):
		writeError(c, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
