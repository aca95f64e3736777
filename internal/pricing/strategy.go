package pricing

import (
	"fmt"
	"math"
	"sort"
)

// Strategy turns aggregate supply and demand into a P2P clearing price.
// buy is the grid retail price, sell the grid feed-in price.
type Strategy interface {
	Name() string
	Price(supply, demand, buy, sell float64) float64
}

const (
	StrategyLinearSDR    = "linear_sdr"
	StrategyBoundedRatio = "bounded_ratio"
)

// Params carries the optional knobs of the non-canonical strategies.
type Params struct {
	PMin float64
	PMax float64
}

// New returns the strategy registered under name. An empty name selects linear_sdr.
func New(name string, params Params) (Strategy, error) {
	switch name {
	case "", StrategyLinearSDR:
		return LinearSDR{}, nil
	case StrategyBoundedRatio:
		if params.PMin < 0 || params.PMax < 0 || (params.PMax != 0 && params.PMin > params.PMax) {
			return nil, fmt.Errorf("bounded_ratio: invalid bounds p_min=%.4f p_max=%.4f", params.PMin, params.PMax)
		}
		return BoundedRatio{PMin: params.PMin, PMax: params.PMax}, nil
	default:
		return nil, fmt.Errorf("unsupported pricing strategy: %q", name)
	}
}

// Names lists the registered strategies.
func Names() []string {
	out := []string{StrategyLinearSDR, StrategyBoundedRatio}
	sort.Strings(out)
	return out
}

// SDR is demand over supply; +Inf when there is no supply.
func SDR(supply, demand float64) float64 {
	if supply <= 0 {
		return math.Inf(1)
	}
	return demand / supply
}

// LinearSDR interpolates between the grid prices by the supply-demand ratio.
// - no supply: buy price
// - SDR >= 1: sell price
// - otherwise: sell*SDR + buy*(1-SDR)
type LinearSDR struct{}

func (LinearSDR) Name() string { return StrategyLinearSDR }

func (LinearSDR) Price(supply, demand, buy, sell float64) float64 {
	if supply <= 0 {
		return buy
	}
	sdr := SDR(supply, demand)
	if sdr >= 1 {
		return sell
	}
	return clamp(sell*sdr+buy*(1-sdr), math.Min(buy, sell), math.Max(buy, sell))
}

// BoundedRatio pins the price to fixed bounds outside the 0.5..2 supply/demand band
// and scales the midpoint inversely with the ratio inside it.
// Zero bounds fall back to the grid prices.
type BoundedRatio struct {
	PMin float64
	PMax float64
}

func (BoundedRatio) Name() string { return StrategyBoundedRatio }

func (b BoundedRatio) Price(supply, demand, buy, sell float64) float64 {
	pMin, pMax := b.bounds(buy, sell)
	mid := (pMin + pMax) / 2
	if supply <= 0 || demand <= 0 {
		return mid
	}
	ratio := supply / demand
	switch {
	case ratio >= 2:
		return pMin
	case ratio <= 0.5:
		return pMax
	default:
		return clamp(mid/ratio, pMin, pMax)
	}
}

func (b BoundedRatio) bounds(buy, sell float64) (float64, float64) {
	pMin, pMax := b.PMin, b.PMax
	if pMin == 0 && pMax == 0 {
		pMin, pMax = math.Min(buy, sell), math.Max(buy, sell)
	}
	return pMin, pMax
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
