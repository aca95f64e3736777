package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"prosumer-p2p/internal/api/handlers"
	"prosumer-p2p/internal/api/middleware"
	"prosumer-p2p/internal/api/models"
	"prosumer-p2p/internal/driver"
	"prosumer-p2p/internal/ledger"
	"prosumer-p2p/internal/peer"
	"prosumer-p2p/internal/pricing"
	"prosumer-p2p/internal/sink"
)

// Deps is what the HTTP surface of a node reads from. Stats and Hub are optional.
type Deps struct {
	Store   *ledger.Store
	Service *peer.Service
	PeerID  string
	Tariff  *pricing.Tariff
	Stats   func() driver.StatsSnapshot
	Hub     *sink.Hub

	// PeerRPS limits inbound peer RPCs; 0 disables the limit.
	PeerRPS   float64
	PeerBurst int

	Logger *slog.Logger
}

// NewRouter builds the node's HTTP handler: the peer RPC surface plus status,
// ledger, pricing, metrics and the live plot stream.
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	router := gin.New()
	router.Use(middleware.CORS())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.ErrorHandler(logger))

	peerHandler := handlers.NewPeerHandler(d.Service)
	statusHandler := handlers.NewStatusHandler(d.Store, d.Service, d.PeerID, d.Stats)
	pricingHandler := handlers.NewPricingHandler(d.Tariff)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "state": d.Service.State().String()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	rpc := router.Group(peer.RoutePrefix)
	rpc.Use(middleware.RateLimit(d.PeerRPS, d.PeerBurst))
	{
		rpc.POST(peer.PathSyncStart, peerHandler.SyncStart)
		rpc.POST(peer.PathUpdatePeer, peerHandler.UpdatePeerData)
		rpc.GET(peer.PathGetPeer, peerHandler.GetPeerData)
		rpc.POST(peer.PathSync, peerHandler.Sync)
		rpc.POST(peer.PathResynchronize, peerHandler.Resynchronize)
		rpc.GET(peer.PathHealth, peerHandler.Health)
	}

	api := router.Group("/api/v1")
	{
		api.GET("/status", statusHandler.Status)
		api.GET("/ledger", statusHandler.Ledger)
		api.GET("/summary", statusHandler.Summary)

		api.GET("/pricing/strategies", pricingHandler.ListStrategies)
		api.GET("/pricing/quote", pricingHandler.Quote)

		if d.Hub != nil {
			api.GET("/plot/stream", gin.WrapF(d.Hub.ServeWS))
		}
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, models.NewError("NOT_FOUND", "Not found"))
			return
		}
		c.Status(http.StatusNotFound)
	})
	return router
}
