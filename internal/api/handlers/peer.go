package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"prosumer-p2p/internal/api/models"
	"prosumer-p2p/internal/model"
	"prosumer-p2p/internal/peer"
)

// PeerHandler serves the inbound half of the peer protocol.
type PeerHandler struct {
	service *peer.Service
}

// NewPeerHandler creates a new peer handler
func NewPeerHandler(service *peer.Service) *PeerHandler {
	return &PeerHandler{service: service}
}

// SyncStart handles POST /api/v1/peer/sync_start
func (h *PeerHandler) SyncStart(c *gin.Context) {
	var a model.StartAgreement
	if !bindJSON(c, &a) {
		return
	}
	ack, err := h.service.SyncStart(a)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

// UpdatePeerData handles POST /api/v1/peer/update_peer_data
func (h *PeerHandler) UpdatePeerData(c *gin.Context) {
	var s model.PeerSnapshot
	if !bindJSON(c, &s) {
		return
	}
	if err := h.service.UpdatePeerData(s); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, peer.Ack{Ack: true, NodeID: h.service.NodeID()})
}

// GetPeerData handles GET /api/v1/peer/get_peer_data
func (h *PeerHandler) GetPeerData(c *gin.Context) {
	s, err := h.service.GetPeerData()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// Sync handles POST /api/v1/peer/sync
func (h *PeerHandler) Sync(c *gin.Context) {
	var a model.AggregateSnapshot
	if !bindJSON(c, &a) {
		return
	}
	reply, err := h.service.Sync(a)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// Resynchronize handles POST /api/v1/peer/resynchronize
func (h *PeerHandler) Resynchronize(c *gin.Context) {
	var s model.PeerSnapshot
	if !bindJSON(c, &s) {
		return
	}
	if err := h.service.Resynchronize(s); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, peer.Ack{Ack: true, NodeID: h.service.NodeID()})
}

// Health handles GET /api/v1/peer/health
func (h *PeerHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Health())
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, models.NewError(peer.CodeInvalidMessage, err.Error()))
		return false
	}
	return true
}

// writeError maps service errors onto the envelope the peer client decodes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, peer.ErrInvalidMessage):
		c.JSON(http.StatusBadRequest, models.NewError(peer.CodeInvalidMessage, err.Error()))
	case errors.Is(err, peer.ErrNoPeerData):
		c.JSON(http.StatusNotFound, models.NewError(peer.CodeNoData, err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, models.NewError(peer.CodeInternal, err.Error()))
	}
}
