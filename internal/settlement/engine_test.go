package settlement

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prosumer-p2p/internal/ledger"
	"prosumer-p2p/internal/model"
	"prosumer-p2p/internal/pricing"
)

const tol = 1e-9

var t0 = time.Date(2013, 6, 1, 12, 0, 0, 0, time.UTC)

func newEngine(t *testing.T, soc float64, policy Policy, recorders ...ledger.Recorder) (*Engine, *ledger.Store) {
	t.Helper()
	batt, err := model.NewBatteryState(5, soc, 0.8)
	require.NoError(t, err)
	tariff, err := pricing.NewTariff(0.20, 0.10, "", "", 0)
	require.NoError(t, err)
	store := ledger.NewStore("node-a", recorders...)
	e, err := New(Config{
		NodeID:          "node-a",
		Battery:         batt,
		Strategy:        pricing.LinearSDR{},
		Tariff:          tariff,
		Policy:          policy,
		InitialCurrency: 100,
	}, store)
	require.NoError(t, err)
	return e, store
}

func sample(i int, demand, generation float64) model.EnergySample {
	return model.EnergySample{
		Timestamp:     t0.Add(time.Duration(i) * 30 * time.Minute),
		DemandKWh:     demand,
		GenerationKWh: generation,
	}
}

func peerWith(balance float64) *model.PeerSnapshot {
	return &model.PeerSnapshot{NodeID: "node-b", Timestamp: t0, Balance: balance, Enable: true}
}

func TestSettleSurplusChargesBattery(t *testing.T) {
	e, store := newEngine(t, 0.5, PolicyBatteryFirst)

	entry, snap, err := e.Settle(sample(0, 0.5, 1.5), nil)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, entry.BalanceKWh, tol)
	assert.InDelta(t, 1.0, entry.ChargedKWh, tol)
	assert.InDelta(t, 0.7, entry.SOCEnd, tol)
	assert.Equal(t, 0.0, entry.GridExportKWh)
	assert.Equal(t, model.CounterpartyNone, entry.Counterparty)
	assert.Equal(t, model.ActionCharging, entry.Action)
	assert.Equal(t, 100.0, entry.Currency)
	assert.InDelta(t, 0.20, entry.PeerPrice, tol)
	assert.False(t, entry.PeerFresh)

	assert.Equal(t, "node-a", snap.NodeID)
	assert.True(t, snap.Enable)
	assert.InDelta(t, 1.0, snap.Balance, tol)
	assert.InDelta(t, 0.7, snap.SOC, tol)
	assert.Equal(t, 1, store.Len())
	assert.InDelta(t, 0.7, e.Battery().SOC, tol)
}

func TestSettleOverflowSoldToPeerThenGrid(t *testing.T) {
	e, _ := newEngine(t, 0.9, PolicyBatteryFirst)

	entry, snap, err := e.Settle(sample(0, 0, 3.0), peerWith(-1.0))
	require.NoError(t, err)

	assert.InDelta(t, 0.5, entry.ChargedKWh, tol)
	assert.InDelta(t, 1.0, entry.PeerSoldKWh, tol)
	assert.InDelta(t, 1.5, entry.GridExportKWh, tol)
	assert.Equal(t, 1.0, entry.SOCEnd)
	assert.Equal(t, model.CounterpartyPeer, entry.Counterparty)
	assert.True(t, entry.PeerFresh)

	// supply 3, demand 1: SDR 1/3
	assert.InDelta(t, 0.1/3+0.2*2/3, entry.PeerPrice, tol)
	assert.InDelta(t, 0.316667, entry.CurrencyDelta, 1e-9)
	assert.InDelta(t, 100.316667, entry.Currency, 1e-9)
	assert.InDelta(t, 2.5, entry.TradeAmountKWh, tol)
	assert.InDelta(t, 2.5, snap.TradeAmount, tol)
	assert.True(t, entry.Balanced())
}

func TestSettlePolicies(t *testing.T) {
	t.Run("battery first keeps surplus when it fits", func(t *testing.T) {
		e, _ := newEngine(t, 0.5, PolicyBatteryFirst)
		entry, _, err := e.Settle(sample(0, 0, 2.0), peerWith(-1.0))
		require.NoError(t, err)
		assert.InDelta(t, 2.0, entry.ChargedKWh, tol)
		assert.Equal(t, 0.0, entry.PeerSoldKWh)
		assert.InDelta(t, 0.9, entry.SOCEnd, tol)
		assert.Equal(t, model.CounterpartyNone, entry.Counterparty)
	})

	t.Run("peer first reserves the match before charging", func(t *testing.T) {
		e, _ := newEngine(t, 0.5, PolicyPeerFirst)
		entry, _, err := e.Settle(sample(0, 0, 2.0), peerWith(-1.0))
		require.NoError(t, err)
		assert.InDelta(t, 1.0, entry.ChargedKWh, tol)
		assert.InDelta(t, 1.0, entry.PeerSoldKWh, tol)
		assert.InDelta(t, 0.7, entry.SOCEnd, tol)
		assert.Equal(t, model.CounterpartyPeer, entry.Counterparty)
		assert.True(t, entry.Balanced())
	})

	t.Run("peer first deficit buys from peer before discharging", func(t *testing.T) {
		e, _ := newEngine(t, 0.5, PolicyPeerFirst)
		entry, _, err := e.Settle(sample(0, 1.0, 0), peerWith(0.4))
		require.NoError(t, err)
		assert.InDelta(t, 0.4, entry.PeerBoughtKWh, tol)
		assert.InDelta(t, 0.6, entry.DischargedKWh, tol)
		assert.Equal(t, 0.0, entry.GridImportKWh)
		assert.True(t, entry.Balanced())
	})
}

func TestSettleDeficitDischarges(t *testing.T) {
	e, _ := newEngine(t, 0.5, PolicyBatteryFirst)

	entry, _, err := e.Settle(sample(0, 1.0, 0.5), nil)
	require.NoError(t, err)
	assert.InDelta(t, -0.5, entry.BalanceKWh, tol)
	assert.InDelta(t, 0.5, entry.DischargedKWh, tol)
	assert.InDelta(t, 0.4, entry.SOCEnd, tol)
	assert.Equal(t, 0.0, entry.GridImportKWh)
	assert.Equal(t, model.ActionDischarging, entry.Action)
	assert.Equal(t, 100.0, entry.Currency)
}

func TestSettleShortfallBoughtFromPeerThenGrid(t *testing.T) {
	e, _ := newEngine(t, 0.3, PolicyBatteryFirst)

	entry, _, err := e.Settle(sample(0, 2.0, 0), peerWith(1.0))
	require.NoError(t, err)

	assert.InDelta(t, 0.5, entry.DischargedKWh, tol)
	assert.InDelta(t, 1.0, entry.PeerBoughtKWh, tol)
	assert.InDelta(t, 0.5, entry.GridImportKWh, tol)
	assert.InDelta(t, 0.2, entry.SOCEnd, tol)
	// supply 1, demand 2: scarce supply clears at the sell price
	assert.InDelta(t, 0.10, entry.PeerPrice, tol)
	assert.InDelta(t, -0.2, entry.CurrencyDelta, tol)
	assert.InDelta(t, 99.8, entry.Currency, tol)
	assert.InDelta(t, -1.5, entry.TradeAmountKWh, tol)
	assert.Equal(t, model.CounterpartyPeer, entry.Counterparty)
}

func TestSettleWithoutUsablePeerIsGridOnly(t *testing.T) {
	disabled := peerWith(-1.0)
	disabled.Enable = false
	self := peerWith(-1.0)
	self.NodeID = "node-a"

	cases := []struct {
		name string
		peer *model.PeerSnapshot
	}{
		{"absent", nil},
		{"disabled", disabled},
		{"own snapshot", self},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := newEngine(t, 1.0, PolicyBatteryFirst)
			entry, _, err := e.Settle(sample(0, 0, 1.0), tc.peer)
			require.NoError(t, err)
			assert.False(t, entry.PeerFresh)
			assert.Equal(t, 0.0, entry.PeerSoldKWh)
			assert.InDelta(t, 1.0, entry.GridExportKWh, tol)
			assert.Equal(t, model.CounterpartyGrid, entry.Counterparty)
			assert.InDelta(t, 100.1, entry.Currency, tol)
		})
	}
}

func TestSettleZeroBalance(t *testing.T) {
	e, _ := newEngine(t, 0.5, PolicyBatteryFirst)

	entry, _, err := e.Settle(sample(0, 0.5, 0.5), peerWith(-1.0))
	require.NoError(t, err)
	assert.Equal(t, model.ActionIdle, entry.Action)
	assert.Equal(t, model.CounterpartyNone, entry.Counterparty)
	assert.Equal(t, 0.5, entry.SOCEnd)
	assert.Equal(t, 0.0, entry.TradeAmountKWh)

	entry, _, err = e.Settle(sample(1, 0, 0), nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.20, entry.PeerPrice, tol, "no supply prices at the grid buy price")
	assert.Equal(t, -1.0, entry.SDR)
	assert.Equal(t, model.CounterpartyNone, entry.Counterparty)
	assert.Equal(t, 100.0, entry.Currency)
}

func TestSettleRejectsInvalidSample(t *testing.T) {
	e, store := newEngine(t, 0.5, PolicyBatteryFirst)

	_, _, err := e.Settle(sample(0, -1, 0), nil)
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0.5, e.Battery().SOC)
}

func TestSettleRejectsRepeatedTimestamp(t *testing.T) {
	e, store := newEngine(t, 0.5, PolicyBatteryFirst)

	_, _, err := e.Settle(sample(0, 0, 1.0), nil)
	require.NoError(t, err)
	_, _, err = e.Settle(sample(0, 0, 1.0), nil)
	assert.ErrorIs(t, err, ledger.ErrOutOfOrder)

	assert.Equal(t, 1, store.Len())
	assert.InDelta(t, 0.7, e.Battery().SOC, tol)
}

type failingRecorder struct{}

func (failingRecorder) Record(string, ledger.Entry) error { return errors.New("disk full") }
func (failingRecorder) Close() error                      { return nil }

func TestSettleSurvivesRecorderFailure(t *testing.T) {
	e, store := newEngine(t, 1.0, PolicyBatteryFirst, failingRecorder{})

	entry, snap, err := e.Settle(sample(0, 0, 1.0), nil)
	assert.ErrorIs(t, err, ledger.ErrRecordFailed)
	assert.InDelta(t, 100.1, entry.Currency, tol)
	assert.Equal(t, entry.Timestamp, snap.Timestamp)
	assert.Equal(t, 1, store.Len())
	assert.InDelta(t, 100.1, e.Currency(), tol)
}

func TestSettleInvariantsHoldOverRandomDays(t *testing.T) {
	for _, policy := range []Policy{PolicyBatteryFirst, PolicyPeerFirst} {
		rng := rand.New(rand.NewSource(7))
		e, store := newEngine(t, 0.5, policy)

		currency := 100.0
		for i := 0; i < 500; i++ {
			var peer *model.PeerSnapshot
			if rng.Intn(3) > 0 {
				peer = peerWith(rng.Float64()*4 - 2)
			}
			entry, _, err := e.Settle(sample(i, rng.Float64()*2, rng.Float64()*2), peer)
			require.NoError(t, err)

			assert.True(t, entry.Balanced(), "tick %d residual %g", i, entry.Residual())
			assert.GreaterOrEqual(t, entry.SOCEnd, 0.2-tol)
			assert.LessOrEqual(t, entry.SOCEnd, 1.0)
			for _, v := range []float64{entry.ChargedKWh, entry.DischargedKWh, entry.PeerSoldKWh, entry.PeerBoughtKWh, entry.GridExportKWh, entry.GridImportKWh} {
				assert.GreaterOrEqual(t, v, 0.0)
			}
			currency += entry.CurrencyDelta
			assert.InDelta(t, currency, entry.Currency, 1e-6)
		}
		assert.Equal(t, 500, store.Len())
	}
}

func TestAggregate(t *testing.T) {
	e, _ := newEngine(t, 0.5, PolicyBatteryFirst)
	_, _, err := e.Settle(sample(0, 0.5, 1.5), nil)
	require.NoError(t, err)
	_, _, err = e.Settle(sample(1, 1.0, 0.5), nil)
	require.NoError(t, err)

	agg := e.Aggregate(t0)
	assert.Equal(t, "node-a", agg.NodeID)
	assert.Equal(t, 2, agg.Ticks)
	assert.Equal(t, sample(1, 0, 0).Timestamp, agg.Timestamp)
	assert.InDelta(t, 1.5, agg.CumulativeDemandKWh, tol)
	assert.InDelta(t, 2.0, agg.CumulativeGenerationKWh, tol)
	assert.InDelta(t, 0.6, agg.SOC, tol)
	assert.Equal(t, t0, agg.PeerViewTimestamp)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyBatteryFirst, p)

	p, err = ParsePolicy("peer_first")
	require.NoError(t, err)
	assert.Equal(t, PolicyPeerFirst, p)

	_, err = ParsePolicy("auction")
	assert.Error(t, err)
}
