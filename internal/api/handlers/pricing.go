package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"prosumer-p2p/internal/api/models"
	"prosumer-p2p/internal/pricing"
)

// PricingHandler handles pricing-related requests
type PricingHandler struct {
	tariff *pricing.Tariff
}

// NewPricingHandler creates a new pricing handler. Quotes use the node's tariff.
func NewPricingHandler(tariff *pricing.Tariff) *PricingHandler {
	return &PricingHandler{tariff: tariff}
}

// ListStrategies handles GET /api/v1/pricing/strategies
func (h *PricingHandler) ListStrategies(c *gin.Context) {
	strategies := []models.StrategyInfo{
		{
			Name:        pricing.StrategyLinearSDR,
			Description: "Interpolates between the grid sell and buy price by the supply-demand ratio. Pays the buy price when nobody supplies.",
			Parameters:  []models.ParameterInfo{},
		},
		{
			Name:        pricing.StrategyBoundedRatio,
			Description: "Pins the price to the band edges outside a 0.5..2 supply/demand ratio and scales the band midpoint inversely with the ratio inside it.",
			Parameters: []models.ParameterInfo{
				{
					Name:        "p_min",
					Type:        "float",
					Description: "Lower price bound; p_min and p_max both 0 use the grid prices",
					Default:     0.0,
				},
				{
					Name:        "p_max",
					Type:        "float",
					Description: "Upper price bound",
					Default:     0.0,
				},
			},
		},
	}
	c.JSON(http.StatusOK, gin.H{"strategies": strategies})
}

// Quote handles GET /api/v1/pricing/quote
func (h *PricingHandler) Quote(c *gin.Context) {
	var req models.QuoteRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.NewError("INVALID_REQUEST", err.Error()))
		return
	}
	s, err := pricing.New(req.Strategy, pricing.Params{PMin: req.PMin, PMax: req.PMax})
	if err != nil {
		c.JSON(http.StatusBadRequest, models.NewError("INVALID_STRATEGY", err.Error()))
		return
	}
	ts := time.Now()
	if req.Timestamp != "" {
		if ts, err = time.Parse(time.RFC3339, req.Timestamp); err != nil {
			c.JSON(http.StatusBadRequest, models.NewError("INVALID_REQUEST", "timestamp must be RFC 3339"))
			return
		}
	}
	buy, sell := h.tariff.Prices(ts)
	c.JSON(http.StatusOK, models.QuoteResponse{
		Strategy: s.Name(),
		Quote:    pricing.QuoteFor(s, buy, sell, req.LocalBalance, req.PeerBalance, req.PeerAvailable),
	})
}
