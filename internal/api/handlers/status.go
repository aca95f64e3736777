package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"prosumer-p2p/internal/analysis"
	"prosumer-p2p/internal/api/models"
	"prosumer-p2p/internal/driver"
	"prosumer-p2p/internal/ledger"
	"prosumer-p2p/internal/peer"
)

// StatusHandler reports on the local node. It only reads the ledger store, the peer
// service and the driver counters, all of which are safe to read while the node ticks.
type StatusHandler struct {
	store   *ledger.Store
	service *peer.Service
	peerID  string
	stats   func() driver.StatsSnapshot
}

// NewStatusHandler creates a new status handler. stats may be nil.
func NewStatusHandler(store *ledger.Store, service *peer.Service, peerID string, stats func() driver.StatsSnapshot) *StatusHandler {
	return &StatusHandler{store: store, service: service, peerID: peerID, stats: stats}
}

// Status handles GET /api/v1/status
func (h *StatusHandler) Status(c *gin.Context) {
	resp := models.StatusResponse{
		NodeID: h.store.NodeID(),
		PeerID: h.peerID,
		State:  h.service.State().String(),
		Totals: h.store.Totals(),
	}
	if a, ok := h.service.Agreement(); ok {
		resp.Agreement = &a
	}
	if h.stats != nil {
		resp.Stats = h.stats()
	}
	if snap, ok := h.service.Cache().Get(h.peerID); ok {
		resp.Peer = &snap
		_, err := h.service.Cache().Fresh(h.peerID)
		resp.PeerFresh = err == nil
	}
	c.JSON(http.StatusOK, resp)
}

// Ledger handles GET /api/v1/ledger?limit=N
func (h *StatusHandler) Ledger(c *gin.Context) {
	var req models.LedgerRequest
	if err := c.ShouldBindQuery(&req); err != nil || req.Limit < 0 {
		c.JSON(http.StatusBadRequest, models.NewError("INVALID_REQUEST", "limit must be a non-negative integer"))
		return
	}
	var entries []ledger.Entry
	if req.Limit > 0 {
		entries = h.store.Tail(req.Limit)
	} else {
		entries = h.store.Entries()
	}
	c.JSON(http.StatusOK, models.LedgerResponse{
		NodeID:  h.store.NodeID(),
		Total:   h.store.Len(),
		Entries: entries,
	})
}

// Summary handles GET /api/v1/summary
func (h *StatusHandler) Summary(c *gin.Context) {
	c.JSON(http.StatusOK, models.SummaryResponse{
		Summary: analysis.Summarize(h.store.NodeID(), h.store.Entries()),
	})
}
