package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"prosumer-p2p/internal/ledger"
	"prosumer-p2p/internal/model"
)

func TestSummarize(t *testing.T) {
	t0 := time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []ledger.Entry{
		{
			Timestamp: t0, DemandKWh: 1, GenerationKWh: 0, BalanceKWh: -1,
			DischargedKWh: 0.5, GridImportKWh: 0.5, Counterparty: model.CounterpartyGrid,
			PeerPrice: 0.2, CurrencyDelta: -0.1, Currency: 99.9, SOCEnd: 0.4,
		},
		{
			Timestamp: t0.Add(time.Hour), DemandKWh: 0, GenerationKWh: 2, BalanceKWh: 2,
			ChargedKWh: 1, PeerSoldKWh: 1, Counterparty: model.CounterpartyPeer,
			PeerPrice: 0.1, CurrencyDelta: 0.1, Currency: 100, SOCEnd: 0.6,
		},
		{
			Timestamp: t0.Add(2 * time.Hour), Counterparty: model.CounterpartyNone,
			PeerPrice: 0.2, Currency: 100, SOCEnd: 0.6,
		},
	}

	s := Summarize("node-a", entries)
	assert.Equal(t, 3, s.Ticks)
	assert.Equal(t, t0, s.Start)
	assert.InDelta(t, 100.0, s.StartCurrency, 1e-12)
	assert.InDelta(t, 0.0, s.CurrencyChange, 1e-12)
	assert.InDelta(t, 0.5, s.SelfSufficiency, 1e-12)
	assert.InDelta(t, 2.0/3.0, s.PeerShare, 1e-12)
	assert.Equal(t, 1, s.PeerTicks)
	assert.Equal(t, 1, s.GridTicks)
	assert.Equal(t, 1, s.IdleTicks)
	assert.Equal(t, 0.4, s.MinSOC)
	assert.Equal(t, 0.6, s.MaxSOC)
	assert.Equal(t, 0.1, s.MinPeerPrice)
	assert.Equal(t, 0.2, s.MaxPeerPrice)
	assert.InDelta(t, 0.5/3, s.MeanPeerPrice, 1e-12)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize("node-a", nil)
	assert.Equal(t, "node-a", s.NodeID)
	assert.Zero(t, s.Ticks)
}

func TestPercentileSorted(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	assert.Equal(t, 1.0, percentileSorted(vals, 0))
	assert.Equal(t, 3.0, percentileSorted(vals, 0.5))
	assert.InDelta(t, 4.8, percentileSorted(vals, 0.95), 1e-12)
	assert.Equal(t, 0.0, percentileSorted(nil, 0.5))
}

func TestRankByCurrencyChange(t *testing.T) {
	in := []Summary{{NodeID: "a", CurrencyChange: -1}, {NodeID: "b", CurrencyChange: 2}}
	out := RankByCurrencyChange(in)
	assert.Equal(t, "b", out[0].NodeID)
	assert.Equal(t, "a", in[0].NodeID, "input is not reordered")
}
