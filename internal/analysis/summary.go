package analysis

import (
	"math"
	"sort"
	"time"

	"prosumer-p2p/internal/ledger"
	"prosumer-p2p/internal/model"
)

// Summary condenses a node's ledger into the figures worth reporting after a run.
type Summary struct {
	NodeID string    `json:"node_id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Ticks  int       `json:"ticks"`

	DemandKWh     float64 `json:"demand_kwh"`
	GenerationKWh float64 `json:"generation_kwh"`
	ChargedKWh    float64 `json:"charged_kwh"`
	DischargedKWh float64 `json:"discharged_kwh"`
	PeerSoldKWh   float64 `json:"peer_sold_kwh"`
	PeerBoughtKWh float64 `json:"peer_bought_kwh"`
	GridExportKWh float64 `json:"grid_export_kwh"`
	GridImportKWh float64 `json:"grid_import_kwh"`

	// SelfSufficiency is the share of demand met without buying from peer or grid.
	SelfSufficiency float64 `json:"self_sufficiency"`
	// PeerShare is the share of traded energy that went through the peer.
	PeerShare float64 `json:"peer_share"`

	PeerTicks int `json:"peer_ticks"`
	GridTicks int `json:"grid_ticks"`
	IdleTicks int `json:"idle_ticks"`

	StartCurrency  float64 `json:"start_currency"`
	EndCurrency    float64 `json:"end_currency"`
	CurrencyChange float64 `json:"currency_change"`

	MinSOC   float64 `json:"min_soc"`
	MaxSOC   float64 `json:"max_soc"`
	FinalSOC float64 `json:"final_soc"`

	MinPeerPrice  float64 `json:"min_peer_price"`
	MaxPeerPrice  float64 `json:"max_peer_price"`
	MeanPeerPrice float64 `json:"mean_peer_price"`
	P05PeerPrice  float64 `json:"p05_peer_price"`
	P95PeerPrice  float64 `json:"p95_peer_price"`
}

func Summarize(nodeID string, entries []ledger.Entry) Summary {
	s := Summary{NodeID: nodeID}
	if len(entries) == 0 {
		return s
	}
	first, last := entries[0], entries[len(entries)-1]
	s.Start = first.Timestamp
	s.End = last.Timestamp
	s.Ticks = len(entries)
	s.StartCurrency = first.Currency - first.CurrencyDelta
	s.EndCurrency = last.Currency
	s.CurrencyChange = s.EndCurrency - s.StartCurrency
	s.FinalSOC = last.SOCEnd

	s.MinSOC = math.Inf(1)
	s.MaxSOC = math.Inf(-1)
	prices := make([]float64, 0, len(entries))
	sum := 0.0
	for _, e := range entries {
		s.DemandKWh += e.DemandKWh
		s.GenerationKWh += e.GenerationKWh
		s.ChargedKWh += e.ChargedKWh
		s.DischargedKWh += e.DischargedKWh
		s.PeerSoldKWh += e.PeerSoldKWh
		s.PeerBoughtKWh += e.PeerBoughtKWh
		s.GridExportKWh += e.GridExportKWh
		s.GridImportKWh += e.GridImportKWh

		switch e.Counterparty {
		case model.CounterpartyPeer:
			s.PeerTicks++
		case model.CounterpartyGrid:
			s.GridTicks++
		default:
			s.IdleTicks++
		}

		s.MinSOC = math.Min(s.MinSOC, e.SOCEnd)
		s.MaxSOC = math.Max(s.MaxSOC, e.SOCEnd)

		prices = append(prices, e.PeerPrice)
		sum += e.PeerPrice
	}

	if s.DemandKWh > 0 {
		s.SelfSufficiency = 1 - (s.PeerBoughtKWh+s.GridImportKWh)/s.DemandKWh
	} else {
		s.SelfSufficiency = 1
	}
	peer := s.PeerSoldKWh + s.PeerBoughtKWh
	if traded := peer + s.GridExportKWh + s.GridImportKWh; traded > 0 {
		s.PeerShare = peer / traded
	}

	sort.Float64s(prices)
	s.MinPeerPrice = prices[0]
	s.MaxPeerPrice = prices[len(prices)-1]
	s.MeanPeerPrice = sum / float64(len(prices))
	s.P05PeerPrice = percentileSorted(prices, 0.05)
	s.P95PeerPrice = percentileSorted(prices, 0.95)
	return s
}

func percentileSorted(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	// Linear interpolation between order stats.
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// RankByCurrencyChange sorts summaries by currency gained, best first.
func RankByCurrencyChange(summaries []Summary) []Summary {
	out := append([]Summary(nil), summaries...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CurrencyChange > out[j].CurrencyChange
	})
	return out
}
