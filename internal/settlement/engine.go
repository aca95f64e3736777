package settlement

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"prosumer-p2p/internal/ledger"
	"prosumer-p2p/internal/model"
	"prosumer-p2p/internal/pricing"
)

// Policy decides whether the battery or the peer gets the first claim on a tick's balance.
type Policy string

const (
	// PolicyBatteryFirst lets the battery absorb or supply first; only its overflow or
	// shortfall is matched against the peer.
	PolicyBatteryFirst Policy = "battery_first"
	// PolicyPeerFirst reserves the peer match from the raw balance before dispatch.
	PolicyPeerFirst Policy = "peer_first"
)

// currencyPlaces is the precision money is kept at.
const currencyPlaces = 6

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyBatteryFirst:
		return PolicyBatteryFirst, nil
	case PolicyPeerFirst:
		return PolicyPeerFirst, nil
	default:
		return "", fmt.Errorf("unknown trade policy %q", s)
	}
}

type Config struct {
	NodeID          string
	Battery         model.BatteryState
	Strategy        pricing.Strategy
	Tariff          *pricing.Tariff
	Policy          Policy
	InitialCurrency float64
}

// Engine settles one sample at a time for a node.
// It owns the node's battery and currency; only the tick loop calls Settle.
type Engine struct {
	nodeID   string
	battery  model.BatteryState
	strategy pricing.Strategy
	tariff   *pricing.Tariff
	policy   Policy
	currency decimal.Decimal

	store *ledger.Store
	ticks int
}

func New(cfg Config, store *ledger.Store) (*Engine, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("node id is empty")
	}
	if err := cfg.Battery.Validate(); err != nil {
		return nil, fmt.Errorf("battery: %w", err)
	}
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("pricing strategy is nil")
	}
	if cfg.Tariff == nil {
		return nil, fmt.Errorf("tariff is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ledger store is nil")
	}
	policy, err := ParsePolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	return &Engine{
		nodeID:   cfg.NodeID,
		battery:  cfg.Battery,
		strategy: cfg.Strategy,
		tariff:   cfg.Tariff,
		policy:   policy,
		currency: decimal.NewFromFloat(cfg.InitialCurrency),
		store:    store,
	}, nil
}

func (e *Engine) NodeID() string              { return e.nodeID }
func (e *Engine) Battery() model.BatteryState { return e.battery }
func (e *Engine) Currency() float64           { return e.currency.InexactFloat64() }
func (e *Engine) Policy() Policy              { return e.policy }
func (e *Engine) Strategy() pricing.Strategy  { return e.strategy }

// Settle processes one sample: it dispatches the battery, trades the residual with the
// peer and the grid, appends the ledger entry and returns the snapshot to publish.
//
// peer is the last usable peer state; nil, disabled or own snapshots make the tick grid-only.
// A failing durable recorder does not undo the settlement: the entry is returned together
// with an error wrapping ledger.ErrRecordFailed.
func (e *Engine) Settle(sample model.EnergySample, peer *model.PeerSnapshot) (ledger.Entry, model.PeerSnapshot, error) {
	if err := sample.Validate(); err != nil {
		return ledger.Entry{}, model.PeerSnapshot{}, err
	}

	peerOK := peer != nil && peer.Enable && peer.NodeID != e.nodeID
	peerBalance := 0.0
	if peerOK {
		peerBalance = peer.Balance
	}

	buy, sell := e.tariff.Prices(sample.Timestamp)
	balance := sample.Balance()
	quote := pricing.QuoteFor(e.strategy, buy, sell, balance, peerBalance, peerOK)

	entry := ledger.Entry{
		Index:         e.ticks,
		Timestamp:     sample.Timestamp,
		DemandKWh:     sample.DemandKWh,
		GenerationKWh: sample.GenerationKWh,
		BalanceKWh:    balance,
		PeerPrice:     quote.PeerPrice,
		BuyGridPrice:  quote.BuyGridPrice,
		SellGridPrice: quote.SellGridPrice,
		SDR:           quote.SDR,
		PeerFresh:     peerOK,
		SOCStart:      e.battery.SOC,
	}

	next := e.battery
	var err error
	switch {
	case balance > 0:
		// A peer with a deficit can buy.
		peerRoom := 0.0
		if peerOK && peerBalance < 0 {
			peerRoom = -peerBalance
		}
		next, err = e.settleSurplus(balance, peerRoom, &entry)
	case balance < 0:
		peerOffer := 0.0
		if peerOK && peerBalance > 0 {
			peerOffer = peerBalance
		}
		next, err = e.settleDeficit(-balance, peerOffer, &entry)
	}
	if err != nil {
		return ledger.Entry{}, model.PeerSnapshot{}, fmt.Errorf("settle %s: %w", sample.Timestamp.Format(time.RFC3339), err)
	}

	delta := value(entry.PeerSoldKWh, quote.PeerPrice).
		Add(value(entry.GridExportKWh, quote.SellGridPrice)).
		Sub(value(entry.PeerBoughtKWh, quote.PeerPrice)).
		Sub(value(entry.GridImportKWh, quote.BuyGridPrice)).
		Round(currencyPlaces)
	currency := e.currency.Add(delta).Round(currencyPlaces)

	entry.SOCEnd = next.SOC
	entry.Action = model.ActionFromSOC(entry.SOCStart, entry.SOCEnd)
	entry.TradeAmountKWh = entry.PeerSoldKWh + entry.GridExportKWh - entry.PeerBoughtKWh - entry.GridImportKWh
	entry.Counterparty = counterparty(entry)
	entry.CurrencyDelta = delta.InexactFloat64()
	entry.Currency = currency.InexactFloat64()

	appendErr := e.store.Append(entry)
	if appendErr != nil && !errors.Is(appendErr, ledger.ErrRecordFailed) {
		return ledger.Entry{}, model.PeerSnapshot{}, appendErr
	}

	e.battery = next
	e.currency = currency
	e.ticks++

	snap := model.PeerSnapshot{
		NodeID:      e.nodeID,
		Timestamp:   entry.Timestamp,
		Balance:     entry.BalanceKWh,
		SOC:         entry.SOCEnd,
		Currency:    entry.Currency,
		TradeAmount: entry.TradeAmountKWh,
		Enable:      true,
	}
	return entry, snap, appendErr
}

func (e *Engine) settleSurplus(surplus, peerRoom float64, entry *ledger.Entry) (model.BatteryState, error) {
	reserved := 0.0
	if e.policy == PolicyPeerFirst {
		reserved = math.Min(surplus, peerRoom)
	}

	next, overflow, err := model.Charge(surplus-reserved, e.battery)
	if err != nil {
		return e.battery, err
	}
	entry.ChargedKWh = surplus - reserved - overflow

	sold := reserved
	if e.policy == PolicyBatteryFirst {
		sold = math.Min(overflow, peerRoom)
		overflow -= sold
	}
	entry.PeerSoldKWh = sold
	entry.GridExportKWh = overflow
	return next, nil
}

func (e *Engine) settleDeficit(deficit, peerOffer float64, entry *ledger.Entry) (model.BatteryState, error) {
	reserved := 0.0
	if e.policy == PolicyPeerFirst {
		reserved = math.Min(deficit, peerOffer)
	}

	next, shortfall, err := model.Discharge(deficit-reserved, e.battery)
	if err != nil {
		return e.battery, err
	}
	entry.DischargedKWh = deficit - reserved - shortfall

	bought := reserved
	if e.policy == PolicyBatteryFirst {
		bought = math.Min(shortfall, peerOffer)
		shortfall -= bought
	}
	entry.PeerBoughtKWh = bought
	entry.GridImportKWh = shortfall
	return next, nil
}

// Aggregate summarizes the ledger for a periodic full sync.
// peerView is the newest timestamp held for the receiving peer.
func (e *Engine) Aggregate(peerView time.Time) model.AggregateSnapshot {
	t := e.store.Totals()
	return model.AggregateSnapshot{
		NodeID:                  e.nodeID,
		Timestamp:               t.LastTimestamp,
		Ticks:                   t.Ticks,
		Balance:                 t.Balance,
		Currency:                e.Currency(),
		SOC:                     e.battery.SOC,
		CumulativeDemandKWh:     t.DemandKWh,
		CumulativeGenerationKWh: t.GenerationKWh,
		PeerViewTimestamp:       peerView,
	}
}

func value(kwh, price float64) decimal.Decimal {
	return decimal.NewFromFloat(kwh).Mul(decimal.NewFromFloat(price))
}

func counterparty(e ledger.Entry) model.Counterparty {
	switch {
	case e.PeerSoldKWh > 0 || e.PeerBoughtKWh > 0:
		return model.CounterpartyPeer
	case e.GridExportKWh > 0 || e.GridImportKWh > 0:
		return model.CounterpartyGrid
	default:
		return model.CounterpartyNone
	}
}
