package pricing

import "math"

// Quote is the price picture for one settlement. It is not persisted beyond it.
type Quote struct {
	BuyGridPrice  float64 `json:"buy_grid_price"`
	SellGridPrice float64 `json:"sell_grid_price"`
	PeerPrice     float64 `json:"peer_price"`
	// SDR is demand/supply; -1 when there is no supply.
	SDR           float64 `json:"supply_demand_ratio"`
	PeerAvailable bool    `json:"peer_available"`
}

// QuoteFor aggregates supply and demand from the local balance and, if available,
// the peer balance, and prices them with s.
func QuoteFor(s Strategy, buy, sell, localBalance, peerBalance float64, peerAvailable bool) Quote {
	supply, demand := 0.0, 0.0
	add := func(b float64) {
		if b > 0 {
			supply += b
		} else {
			demand += -b
		}
	}
	add(localBalance)
	if peerAvailable {
		add(peerBalance)
	}

	sdr := SDR(supply, demand)
	if math.IsInf(sdr, 1) {
		sdr = -1
	}
	return Quote{
		BuyGridPrice:  buy,
		SellGridPrice: sell,
		PeerPrice:     s.Price(supply, demand, buy, sell),
		SDR:           sdr,
		PeerAvailable: peerAvailable,
	}
}
