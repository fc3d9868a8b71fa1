package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/diegopirazabal/docproy/internal/modules/place"
	"github.com/diegopirazabal/docproy/internal/types"
)

type PlaceHandler struct {
	places *place.Service
}

func NewPlaceHandler(svc *place.Service) *PlaceHandler {
	return &PlaceHandler{places: svc}
}

type createPlaceReq struct {
	Name string `json:"name"`
}

func (h *PlaceHandler) Create(c *gin.Context) {
	var req createPlaceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	id, err := h.places.Create(c.Request.Context(), place.CreateCommand{Name: req.Name})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"place_id": id, "name": req.Name})
}

func (h *PlaceHandler) Get(c *gin.Context) {
	p, err := h.places.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"place_id": p.ID, "name": p.Name})
}

func (h *PlaceHandler) List(c *gin.Context) {
	ps, err := h.places.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, 0, len(ps))
	for i := range ps {
		out = append(out, gin.H{"place_id": ps[i].ID, "name": ps[i].Name})
	}
	c.JSON(http.StatusOK, out)
}
