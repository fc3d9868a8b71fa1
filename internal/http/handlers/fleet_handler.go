package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/diegopirazabal/docproy/internal/modules/fleet"
	"github.com/diegopirazabal/docproy/internal/types"
)

type FleetHandler struct {
	fleet *fleet.Service
}

func NewFleetHandler(svc *fleet.Service) *FleetHandler {
	return &FleetHandler{fleet: svc}
}

type registerVehicleReq struct {
	Plate      string `json:"plate"`
	Make       string `json:"make"`
	Model      string `json:"model"`
	Capacity   int    `json:"capacity"`
	LocationID string `json:"location_id"`
}

type scheduleInactivityReq struct {
	Target string    `json:"target"`
	From   time.Time `json:"from"`
	Until  time.Time `json:"until"`
}

type vehicleResponse struct {
	VehicleID     types.ID      `json:"vehicle_id"`
	Plate         string        `json:"plate"`
	Make          string        `json:"make,omitempty"`
	Model         string        `json:"model,omitempty"`
	Capacity      int           `json:"capacity"`
	Status        fleet.Status  `json:"status"`
	LocationID    types.ID      `json:"location_id"`
	PlannedStatus *fleet.Status `json:"planned_status,omitempty"`
	PlannedFrom   *time.Time    `json:"planned_from,omitempty"`
	PlannedUntil  *time.Time    `json:"planned_until,omitempty"`
}

func toVehicleResponse(v *fleet.Vehicle) vehicleResponse {
	return vehicleResponse{
		VehicleID:     v.ID,
		Plate:         v.Plate,
		Make:          v.Make,
		Model:         v.Model,
		Capacity:      v.Capacity,
		Status:        v.Status,
		LocationID:    v.LocationID,
		PlannedStatus: v.PlannedStatus,
		PlannedFrom:   v.PlannedFrom,
		PlannedUntil:  v.PlannedUntil,
	}
}

func (h *FleetHandler) Register(c *gin.Context) {
	var req registerVehicleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := h.fleet.Register(c.Request.Context(), fleet.RegisterCommand{
		Plate:      req.Plate,
		Make:       req.Make,
		Model:      req.Model,
		Capacity:   req.Capacity,
		LocationID: types.ID(req.LocationID),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"vehicle_id": id, "status": fleet.StatusOperational})
}

func (h *FleetHandler) Get(c *gin.Context) {
	v, err := h.fleet.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toVehicleResponse(v))
}

func (h *FleetHandler) List(c *gin.Context) {
	vs, err := h.fleet.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]vehicleResponse, 0, len(vs))
	for i := range vs {
		out = append(out, toVehicleResponse(&vs[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *FleetHandler) ScheduleInactivity(c *gin.Context) {
	var req scheduleInactivityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	err := h.fleet.ScheduleInactivity(c.Request.Context(), fleet.ScheduleInactivityCommand{
		VehicleID: types.ID(c.Param("id")),
		Target:    fleet.Status(req.Target),
		From:      req.From,
		Until:     req.Until,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vehicle_id": c.Param("id"), "planned_status": req.Target})
}
