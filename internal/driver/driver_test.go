package driver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prosumer-p2p/internal/clock"
	"prosumer-p2p/internal/data"
	"prosumer-p2p/internal/ledger"
	"prosumer-p2p/internal/model"
	"prosumer-p2p/internal/peer"
	"prosumer-p2p/internal/pricing"
	"prosumer-p2p/internal/settlement"
	"prosumer-p2p/internal/sink"
)

var simStart = time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type node struct {
	driver    *Driver
	store     *ledger.Store
	service   *peer.Service
	transport *peer.LocalTransport // outbound, to the other node
	display   *bytes.Buffer
}

func series(t *testing.T, n int, demand, generation float64) *data.SliceSource {
	t.Helper()
	samples := make([]model.EnergySample, n)
	for i := range samples {
		samples[i] = model.EnergySample{
			Timestamp:     simStart.Add(time.Duration(i) * 30 * time.Minute),
			DemandKWh:     demand,
			GenerationKWh: generation,
		}
	}
	src, err := data.NewSliceSource(samples)
	require.NoError(t, err)
	return src
}

// newPair builds a surplus node A (coordinator, full battery) and a deficit node B
// (battery at its floor) connected in-process.
func newPair(t *testing.T, ticks int) (a, b *node) {
	t.Helper()
	svcA := peer.NewService("node-a", peer.NewCache(time.Minute), quietLogger())
	svcB := peer.NewService("node-b", peer.NewCache(time.Minute), quietLogger())
	toB := peer.NewLocalTransport(svcB)
	toA := peer.NewLocalTransport(svcA)

	build := func(id, peerID string, coordinator bool, soc float64, src data.Source, svc *peer.Service, out *peer.LocalTransport) *node {
		batt, err := model.NewBatteryState(5, soc, 0.8)
		require.NoError(t, err)
		tariff, err := pricing.NewTariff(0.20, 0.10, "", "", 0)
		require.NoError(t, err)
		store := ledger.NewStore(id)
		engine, err := settlement.New(settlement.Config{
			NodeID:          id,
			Battery:         batt,
			Strategy:        pricing.LinearSDR{},
			Tariff:          tariff,
			Policy:          settlement.PolicyBatteryFirst,
			InitialCurrency: 100,
		}, store)
		require.NoError(t, err)

		proto, err := peer.NewProtocol(peer.Config{
			NodeID:             id,
			PeerID:             peerID,
			Coordinator:        coordinator,
			StartOffset:        20 * time.Millisecond,
			NegotiationTimeout: 2 * time.Second,
			ResyncLag:          time.Hour,
			Retry:              peer.RetryPolicy{MaxRetries: 3, Timeout: time.Second},
		}, out, svc, quietLogger())
		require.NoError(t, err)

		clk, err := clock.New(time.Now(), simStart, 30*time.Minute, 1800*500)
		require.NoError(t, err)

		display := &bytes.Buffer{}
		d, err := New(Options{
			Clock:         clk,
			Source:        src,
			Engine:        engine,
			Protocol:      proto,
			Display:       sink.NewLCD(display),
			FullSyncEvery: 3,
			MaxTicks:      ticks,
			Logger:        quietLogger(),
		})
		require.NoError(t, err)
		return &node{driver: d, store: store, service: svc, transport: out, display: display}
	}

	a = build("node-a", "node-b", true, 1.0, series(t, ticks, 0, 1.0), svcA, toB)
	b = build("node-b", "node-a", false, 0.2, series(t, ticks, 1.0, 0), svcB, toA)
	return a, b
}

func startBoth(t *testing.T, a, b *node) {
	t.Helper()
	ctx := context.Background()
	errs := make(chan error, 1)
	go func() {
		_, err := b.driver.opts.Protocol.Start(ctx)
		errs <- err
	}()
	_, err := a.driver.opts.Protocol.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, <-errs)
}

func TestRunTwoNodes(t *testing.T) {
	a, b := newPair(t, 12)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, n := range []*node{a, b} {
		wg.Add(1)
		go func(i int, n *node) {
			defer wg.Done()
			errs[i] = n.driver.Run(context.Background())
		}(i, n)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	for _, n := range []*node{a, b} {
		entries := n.store.Entries()
		require.Len(t, entries, 12)
		for i, e := range entries {
			assert.True(t, e.Balanced(), "tick %d", i)
			assert.GreaterOrEqual(t, e.SOCEnd, 0.2-1e-9)
			assert.LessOrEqual(t, e.SOCEnd, 1.0)
			if i > 0 {
				assert.True(t, e.Timestamp.After(entries[i-1].Timestamp))
			}
		}
		assert.Equal(t, int64(12), n.driver.Stats().Ticks)
		assert.Equal(t, int64(4), n.driver.Stats().FullSyncs)
		assert.Contains(t, n.display.String(), "Bat:")
	}

	peerTrades := 0
	for _, e := range a.store.Entries() {
		if e.Counterparty == model.CounterpartyPeer {
			peerTrades++
		}
	}
	assert.Greater(t, peerTrades, 0, "surplus node sells to the deficit node once it hears from it")
	assert.Greater(t, a.store.Totals().Currency, 100.0)
	assert.Less(t, b.store.Totals().Currency, 100.0)

	_, ok := a.service.Cache().Aggregate("node-b")
	assert.True(t, ok)
}

func TestFailedPushFallsBackToCachedSnapshot(t *testing.T) {
	a, b := newPair(t, 4)
	startBoth(t, a, b)
	ctx := context.Background()

	// B settles first and reaches A.
	require.NoError(t, b.driver.tick(ctx, 0))
	first, ok := a.service.Cache().Get("node-b")
	require.True(t, ok)

	require.NoError(t, a.driver.tick(ctx, 0))
	e0, _ := a.store.Latest()
	assert.True(t, e0.PeerFresh)
	assert.InDelta(t, 1.0, e0.PeerSoldKWh, 1e-9)

	// B's next push exhausts its retries.
	b.transport.SetDown(true)
	require.NoError(t, b.driver.tick(ctx, 1))
	assert.Equal(t, int64(1), b.driver.Stats().PushFailures)

	cached, ok := a.service.Cache().Get("node-b")
	require.True(t, ok)
	assert.Equal(t, first, cached)

	require.NoError(t, a.driver.tick(ctx, 1))
	e1, _ := a.store.Latest()
	assert.True(t, e1.PeerFresh, "previously cached snapshot is still used")
	assert.InDelta(t, -first.Balance, e1.PeerSoldKWh, 1e-9)
	assert.Equal(t, int64(0), a.driver.Stats().GridOnlyTicks)
}

func TestStalePeerDataMeansGridOnly(t *testing.T) {
	a, b := newPair(t, 2)
	startBoth(t, a, b)
	ctx := context.Background()

	require.NoError(t, a.driver.tick(ctx, 0))
	e, _ := a.store.Latest()
	assert.False(t, e.PeerFresh)
	assert.Equal(t, model.CounterpartyGrid, e.Counterparty)
	assert.Equal(t, int64(1), a.driver.Stats().GridOnlyTicks)
}

func TestRunFailsWhenNegotiationFails(t *testing.T) {
	a, _ := newPair(t, 2)
	a.transport.SetDown(true)

	err := a.driver.Run(context.Background())
	assert.ErrorIs(t, err, peer.ErrNegotiationFailed)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 0, a.store.Len())
}

func TestRunStopsOnCancel(t *testing.T) {
	a, b := newPair(t, 10_000)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 2)
	go func() { done <- a.driver.Run(ctx) }()
	go func() { done <- b.driver.Run(ctx) }()

	require.Eventually(t, func() bool { return a.store.Len() > 3 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, <-done)
	assert.Less(t, a.store.Len(), 10_000)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(model.ErrInvalidArgument))
	assert.False(t, IsFatal(peer.ErrPeerUnreachable))
	assert.False(t, IsFatal(errors.New("other")))
}

type fixedTelemetry struct{ r data.Reading }

func (f fixedTelemetry) Read(context.Context) (data.Reading, error) { return f.r, nil }

func TestTelemetryOverridesGeneration(t *testing.T) {
	a, b := newPair(t, 1)
	a.driver.opts.Telemetry = fixedTelemetry{r: data.Reading{BusVoltage: 10, Current: 0.2, Power: 2}}
	a.driver.opts.TelemetryScale = 100
	startBoth(t, a, b)

	require.NoError(t, a.driver.tick(context.Background(), 0))
	e, _ := a.store.Latest()
	// 2 W x100 for half an hour.
	assert.InDelta(t, 0.1, e.GenerationKWh, 1e-12)
}
