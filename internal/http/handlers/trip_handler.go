package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/diegopirazabal/docproy/internal/modules/trip"
	"github.com/diegopirazabal/docproy/internal/types"
)

type TripHandler struct {
	trips *trip.Service
}

func NewTripHandler(svc *trip.Service) *TripHandler {
	return &TripHandler{trips: svc}
}

type assignTripReq struct {
	OriginID      string    `json:"origin_id"`
	DestinationID string    `json:"destination_id"`
	DepartureAt   time.Time `json:"departure_at"`
	ArrivalAt     time.Time `json:"arrival_at"`
	PriceCents    int64     `json:"price_cents"`
	Currency      string    `json:"currency"`
}

type reassignTripReq struct {
	VehicleID string `json:"vehicle_id"`
}

type tripResponse struct {
	TripID         types.ID    `json:"trip_id"`
	VehicleID      types.ID    `json:"vehicle_id"`
	OriginID       types.ID    `json:"origin_id"`
	DestinationID  types.ID    `json:"destination_id"`
	DepartureAt    time.Time   `json:"departure_at"`
	ArrivalAt      time.Time   `json:"arrival_at"`
	Capacity       int         `json:"capacity"`
	AvailableSeats int         `json:"available_seats"`
	SeatsSold      int         `json:"seats_sold"`
	Status         trip.Status `json:"status"`
	PriceCents     int64       `json:"price_cents"`
	Currency       string      `json:"currency"`
}

func toTripResponse(t *trip.Trip) tripResponse {
	return tripResponse{
		TripID:         t.ID,
		VehicleID:      t.VehicleID,
		OriginID:       t.OriginID,
		DestinationID:  t.DestinationID,
		DepartureAt:    t.DepartureAt,
		ArrivalAt:      t.ArrivalAt,
		Capacity:       t.Capacity,
		AvailableSeats: t.AvailableSeats,
		SeatsSold:      t.SeatsSold,
		Status:         t.Status,
		PriceCents:     t.PriceCents,
		Currency:       t.Currency,
	}
}

func (h *TripHandler) Assign(c *gin.Context) {
	var req assignTripReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := h.trips.Assign(c.Request.Context(), trip.AssignCommand{
		OriginID:      types.ID(req.OriginID),
		DestinationID: types.ID(req.DestinationID),
		DepartureAt:   req.DepartureAt,
		ArrivalAt:     req.ArrivalAt,
		PriceCents:    req.PriceCents,
		Currency:      req.Currency,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTripResponse(t))
}

func (h *TripHandler) Get(c *gin.Context) {
	t, err := h.trips.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTripResponse(t))
}

func (h *TripHandler) Search(c *gin.Context) {
	f := trip.SearchFilter{
		OriginID:      types.ID(c.Query("origin_id")),
		DestinationID: types.ID(c.Query("destination_id")),
		Status:        trip.Status(c.Query("status")),
	}
	if v := c.Query("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid from instant")
			return
		}
		f.From = ts
	}
	if v := c.Query("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid to instant")
			return
		}
		f.To = ts
	}
	if v := c.Query("min_available"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "invalid min_available")
			return
		}
		f.MinAvailable = n
	}
	trips, err := h.trips.Search(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]tripResponse, 0, len(trips))
	for i := range trips {
		out = append(out, toTripResponse(&trips[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *TripHandler) Reassign(c *gin.Context) {
	var req reassignTripReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := h.trips.Reassign(c.Request.Context(), trip.ReassignCommand{
		TripID:       types.ID(c.Param("id")),
		NewVehicleID: types.ID(req.VehicleID),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTripResponse(t))
}

func (h *TripHandler) Cancel(c *gin.Context) {
	if err := h.trips.Cancel(c.Request.Context(), types.ID(c.Param("id"))); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trip_id": c.Param("id"), "status": trip.StatusCancelled})
}
