package ledger

import (
	"math"
	"time"

	"prosumer-p2p/internal/model"
)

// residualTolerance bounds the float error accepted when checking that a tick's balance was fully disposed of.
const residualTolerance = 1e-9

// Entry is one settled tick of a node.
// This is the primary artifact for "what happened" in a simulation.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`

	DemandKWh     float64 `json:"demand_kwh"`
	GenerationKWh float64 `json:"generation_kwh"`
	// BalanceKWh is generation minus demand before dispatch.
	BalanceKWh float64 `json:"balance_kwh"`

	ChargedKWh    float64 `json:"charged_kwh"`
	DischargedKWh float64 `json:"discharged_kwh"`
	PeerSoldKWh   float64 `json:"peer_sold_kwh"`
	PeerBoughtKWh float64 `json:"peer_bought_kwh"`
	GridExportKWh float64 `json:"grid_export_kwh"`
	GridImportKWh float64 `json:"grid_import_kwh"`
	// TradeAmountKWh is signed: positive sold, negative bought, across peer and grid.
	TradeAmountKWh float64 `json:"trade_amount_kwh"`

	Counterparty model.Counterparty `json:"counterparty"`
	Action       model.Action       `json:"action"`

	PeerPrice     float64 `json:"peer_price"`
	BuyGridPrice  float64 `json:"buy_grid_price"`
	SellGridPrice float64 `json:"sell_grid_price"`
	SDR           float64 `json:"supply_demand_ratio"`
	PeerFresh     bool    `json:"peer_fresh"`

	CurrencyDelta float64 `json:"currency_delta"`
	Currency      float64 `json:"currency"`

	SOCStart float64 `json:"soc_start"`
	SOCEnd   float64 `json:"soc_end"`
}

// Residual is the part of the balance not accounted for by battery, peer or grid.
// It is zero for every well-formed entry.
func (e Entry) Residual() float64 {
	disposed := e.ChargedKWh - e.DischargedKWh +
		e.PeerSoldKWh - e.PeerBoughtKWh +
		e.GridExportKWh - e.GridImportKWh
	return e.BalanceKWh - disposed
}

// Balanced reports whether the balance nets to zero.
func (e Entry) Balanced() bool {
	return math.Abs(e.Residual()) <= residualTolerance
}

// Totals aggregates a ledger.
type Totals struct {
	Ticks         int       `json:"ticks"`
	LastTimestamp time.Time `json:"last_timestamp"`

	DemandKWh     float64 `json:"demand_kwh"`
	GenerationKWh float64 `json:"generation_kwh"`
	ChargedKWh    float64 `json:"charged_kwh"`
	DischargedKWh float64 `json:"discharged_kwh"`
	PeerSoldKWh   float64 `json:"peer_sold_kwh"`
	PeerBoughtKWh float64 `json:"peer_bought_kwh"`
	GridExportKWh float64 `json:"grid_export_kwh"`
	GridImportKWh float64 `json:"grid_import_kwh"`

	Currency float64 `json:"currency"`
	SOC      float64 `json:"soc"`
	Balance  float64 `json:"balance"`
}

func (t *Totals) add(e Entry) {
	t.Ticks++
	t.LastTimestamp = e.Timestamp
	t.DemandKWh += e.DemandKWh
	t.GenerationKWh += e.GenerationKWh
	t.ChargedKWh += e.ChargedKWh
	t.DischargedKWh += e.DischargedKWh
	t.PeerSoldKWh += e.PeerSoldKWh
	t.PeerBoughtKWh += e.PeerBoughtKWh
	t.GridExportKWh += e.GridExportKWh
	t.GridImportKWh += e.GridImportKWh
	t.Currency = e.Currency
	t.SOC = e.SOCEnd
	t.Balance = e.BalanceKWh
}
