package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/diegopirazabal/docproy/internal/http/middleware"
	"github.com/diegopirazabal/docproy/internal/modules/booking"
	"github.com/diegopirazabal/docproy/internal/modules/pricing"
	"github.com/diegopirazabal/docproy/internal/modules/trip"
	"github.com/diegopirazabal/docproy/internal/types"
)

type BookingHandler struct {
	booking *booking.Service
	trips   *trip.Service
}

func NewBookingHandler(bookingSvc *booking.Service, tripSvc *trip.Service) *BookingHandler {
	return &BookingHandler{booking: bookingSvc, trips: tripSvc}
}

type holdSeatsReq struct {
	SeatNumbers []int `json:"seat_numbers"`
}

type purchaseSeatReq struct {
	SeatNumber int `json:"seat_number"`
}

type ticketResponse struct {
	TicketID   types.ID       `json:"ticket_id"`
	TripID     types.ID       `json:"trip_id"`
	SeatNumber int            `json:"seat_number"`
	Status     booking.Status `json:"status"`
	PriceCents int64          `json:"price_cents"`
	Currency   string         `json:"currency"`
	HeldAt     *time.Time     `json:"held_at,omitempty"`
}

func toTicketResponse(t *booking.Ticket) ticketResponse {
	return ticketResponse{
		TicketID:   t.ID,
		TripID:     t.TripID,
		SeatNumber: t.SeatNumber,
		Status:     t.Status,
		PriceCents: t.PriceCents,
		Currency:   t.Currency,
		HeldAt:     t.HeldAt,
	}
}

func toTicketResponses(ts []booking.Ticket) []ticketResponse {
	out := make([]ticketResponse, 0, len(ts))
	for i := range ts {
		out = append(out, toTicketResponse(&ts[i]))
	}
	return out
}

func requirePassenger(c *gin.Context) (booking.Passenger, bool) {
	p, ok := middleware.PassengerFrom(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "missing identity")
		return booking.Passenger{}, false
	}
	return booking.Passenger{
		ID:          types.ID(p.ID),
		Name:        p.Name,
		Email:       p.Email,
		DeviceToken: p.DeviceToken,
		Category:    pricing.ParseCategory(p.Category),
	}, true
}

func (h *BookingHandler) Hold(c *gin.Context) {
	p, ok := requirePassenger(c)
	if !ok {
		return
	}
	var req holdSeatsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	tickets, err := h.booking.HoldSeats(c.Request.Context(), booking.HoldCommand{
		TripID:      types.ID(c.Param("id")),
		Passenger:   p,
		SeatNumbers: req.SeatNumbers,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTicketResponses(tickets))
}

func (h *BookingHandler) Confirm(c *gin.Context) {
	p, ok := requirePassenger(c)
	if !ok {
		return
	}
	var req holdSeatsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	tickets, err := h.booking.ConfirmHolds(c.Request.Context(), booking.ConfirmCommand{
		TripID:      types.ID(c.Param("id")),
		PassengerID: p.ID,
		SeatNumbers: req.SeatNumbers,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTicketResponses(tickets))
}

func (h *BookingHandler) Purchase(c *gin.Context) {
	p, ok := requirePassenger(c)
	if !ok {
		return
	}
	var req purchaseSeatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	ticket, err := h.booking.Purchase(c.Request.Context(), booking.PurchaseCommand{
		TripID:     types.ID(c.Param("id")),
		Passenger:  p,
		SeatNumber: req.SeatNumber,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTicketResponse(ticket))
}

func (h *BookingHandler) Refund(c *gin.Context) {
	p, ok := requirePassenger(c)
	if !ok {
		return
	}
	amount, err := h.booking.Refund(c.Request.Context(), booking.RefundCommand{
		TicketID:    types.ID(c.Param("id")),
		PassengerID: p.ID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket_id": c.Param("id"), "refund_cents": amount})
}

func (h *BookingHandler) History(c *gin.Context) {
	p, ok := requirePassenger(c)
	if !ok {
		return
	}
	tickets, err := h.booking.HistoryByPassenger(c.Request.Context(), p.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTicketResponses(tickets))
}

// SeatMap is the public occupancy view used by seat pickers.
func (h *BookingHandler) SeatMap(c *gin.Context) {
	tripID := types.ID(c.Param("id"))
	t, err := h.trips.Get(c.Request.Context(), tripID)
	if err != nil {
		respondError(c, err)
		return
	}
	occupied, err := h.booking.OccupiedSeats(c.Request.Context(), tripID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trip_id":         t.ID,
		"capacity":        t.Capacity,
		"available_seats": t.AvailableSeats,
		"occupied":        occupied,
	})
}

// ListByTrip is the operator view of a trip's tickets.
func (h *BookingHandler) ListByTrip(c *gin.Context) {
	f := booking.ListFilter{
		PassengerID: types.ID(c.Query("passenger_id")),
		Status:      booking.Status(c.Query("status")),
	}
	if v := c.Query("seat_number"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(c, http.StatusBadRequest, "invalid seat_number")
			return
		}
		f.SeatNumber = n
	}
	tickets, err := h.booking.ListByTrip(c.Request.Context(), types.ID(c.Param("id")), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTicketResponses(tickets))
}
