package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"prosumer-p2p/internal/clock"
	"prosumer-p2p/internal/data"
	"prosumer-p2p/internal/ledger"
	"prosumer-p2p/internal/metrics"
	"prosumer-p2p/internal/model"
	"prosumer-p2p/internal/peer"
	"prosumer-p2p/internal/settlement"
	"prosumer-p2p/internal/sink"
)

// Options wires a node together. Display, Plotter and Telemetry are optional.
type Options struct {
	Clock    *clock.Clock
	Source   data.Source
	Engine   *settlement.Engine
	Protocol *peer.Protocol

	Display        sink.Display
	Plotter        sink.Plotter
	Telemetry      data.Telemetry
	TelemetryScale float64

	// FullSyncEvery sends an aggregate sync after every n-th tick; 0 disables it.
	FullSyncEvery int
	// PullOnTick fetches the peer's snapshot before each settlement.
	PullOnTick bool
	// MaxTicks limits the run; 0 runs the whole source.
	MaxTicks int

	Logger *slog.Logger
}

// Stats counts what happened during a run. Safe for concurrent reads.
type Stats struct {
	Ticks         atomic.Int64
	GridOnlyTicks atomic.Int64
	PushFailures  atomic.Int64
	FullSyncs     atomic.Int64
	Resyncs       atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Ticks         int64 `json:"ticks"`
	GridOnlyTicks int64 `json:"grid_only_ticks"`
	PushFailures  int64 `json:"push_failures"`
	FullSyncs     int64 `json:"full_syncs"`
	Resyncs       int64 `json:"resyncs"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Ticks:         s.Ticks.Load(),
		GridOnlyTicks: s.GridOnlyTicks.Load(),
		PushFailures:  s.PushFailures.Load(),
		FullSyncs:     s.FullSyncs.Load(),
		Resyncs:       s.Resyncs.Load(),
	}
}

// Driver is the per-node tick loop. It owns the node's battery, ledger and currency
// through the settlement engine; the RPC listener only ever writes the peer cache.
type Driver struct {
	opts   Options
	logger *slog.Logger
	nodeID string
	stats  Stats
}

func New(opts Options) (*Driver, error) {
	if opts.Clock == nil || opts.Source == nil || opts.Engine == nil || opts.Protocol == nil {
		return nil, errors.New("clock, source, engine and protocol are required")
	}
	if opts.Telemetry != nil && opts.TelemetryScale <= 0 {
		return nil, errors.New("telemetry scale must be > 0")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	nodeID := opts.Engine.NodeID()
	return &Driver{
		opts:   opts,
		nodeID: nodeID,
		logger: opts.Logger.With("node", nodeID),
	}, nil
}

func (d *Driver) Stats() StatsSnapshot { return d.stats.Snapshot() }

// Run negotiates the start with the peer, then settles one sample per simulated step
// until the source is exhausted or ctx is cancelled. Cancellation is a clean stop and
// returns nil. Negotiation failures and invalid samples are returned.
func (d *Driver) Run(ctx context.Context) error {
	agreement, err := d.opts.Protocol.Start(ctx)
	if err != nil {
		return err
	}
	d.opts.Clock.Restart(time.Now())
	d.logger.Info("simulation running",
		"agreement_id", agreement.ID,
		"sim_start", d.opts.Clock.SimStart().Format(time.RFC3339),
		"tick_interval", d.opts.Clock.TickInterval())

	n := d.opts.Source.Len()
	if d.opts.MaxTicks > 0 && d.opts.MaxTicks < n {
		n = d.opts.MaxTicks
	}
	for i := 0; i < n; i++ {
		if err := d.opts.Clock.WaitFor(ctx, i); err != nil {
			d.logger.Info("simulation stopped", "ticks", i)
			return nil
		}
		if err := d.tick(ctx, i); err != nil {
			return err
		}
	}
	d.logger.Info("simulation finished", "ticks", n)
	return nil
}

func (d *Driver) tick(ctx context.Context, i int) error {
	started := time.Now()
	sample, ok := d.opts.Source.Sample(i)
	if !ok {
		return fmt.Errorf("no sample for tick %d", i)
	}
	log := d.logger.With("tick", i, "ts", sample.Timestamp.Format(time.RFC3339))

	// In-flight calls finish or time out on their own after a shutdown request.
	rpcCtx := context.WithoutCancel(ctx)

	if d.opts.Telemetry != nil {
		r, err := d.opts.Telemetry.Read(ctx)
		if err != nil {
			log.Warn("telemetry read failed, using series generation", "error", err)
		} else {
			sample.GenerationKWh = data.GenerationKWh(r, d.opts.TelemetryScale, d.opts.Clock.Step())
		}
	}

	if d.opts.PullOnTick {
		if _, err := d.opts.Protocol.Pull(rpcCtx); err != nil {
			log.Warn("pull peer data failed", "error", err)
		}
	}

	peerView, err := d.opts.Protocol.PeerView()
	if err != nil {
		d.stats.GridOnlyTicks.Add(1)
		log.Info("no usable peer data, settling grid-only", "reason", err)
	}

	entry, snap, err := d.opts.Engine.Settle(sample, peerView)
	switch {
	case errors.Is(err, ledger.ErrRecordFailed):
		log.Warn("durable ledger copy failed", "error", err)
	case err != nil:
		log.Error("settlement failed", "error", err)
		return err
	}
	d.stats.Ticks.Add(1)

	svc := d.opts.Protocol.Service()
	agg := d.opts.Engine.Aggregate(svc.Cache().LatestTimestamp(d.opts.Protocol.PeerID()))
	svc.Publish(snap, agg)

	d.show(log, entry)
	log.Debug("tick settled",
		"balance", entry.BalanceKWh,
		"counterparty", entry.Counterparty,
		"price", entry.PeerPrice,
		"soc", entry.SOCEnd,
		"currency", entry.Currency)

	if err := d.opts.Protocol.Push(rpcCtx, snap); err != nil {
		d.stats.PushFailures.Add(1)
		log.Warn("push to peer failed, continuing", "error", err)
	}

	if d.opts.FullSyncEvery > 0 && (i+1)%d.opts.FullSyncEvery == 0 {
		resynced, err := d.opts.Protocol.FullSync(rpcCtx, agg)
		if err != nil {
			log.Warn("full sync failed", "error", err)
		} else {
			d.stats.FullSyncs.Add(1)
			if resynced {
				d.stats.Resyncs.Add(1)
			}
		}
	}

	recordMetrics(d.nodeID, entry, time.Since(started))
	return nil
}

func (d *Driver) show(log *slog.Logger, e ledger.Entry) {
	if d.opts.Display != nil {
		if err := d.opts.Display.Show(sink.TickText(e.GenerationKWh, e.DemandKWh, e.SOCEnd)); err != nil {
			log.Warn("display failed", "error", err)
		}
	}
	if d.opts.Plotter != nil {
		d.opts.Plotter.Emit(sink.PlotPoint{
			NodeID:        d.nodeID,
			Timestamp:     e.Timestamp,
			DemandKWh:     e.DemandKWh,
			GenerationKWh: e.GenerationKWh,
			BalanceKWh:    e.BalanceKWh,
			SOC:           e.SOCEnd,
			Currency:      e.Currency,
			PeerPrice:     e.PeerPrice,
		})
	}
}

func recordMetrics(node string, e ledger.Entry, d time.Duration) {
	metrics.RecordSettlement(node, string(e.Counterparty), e.SOCEnd, e.Currency, e.PeerPrice, e.PeerFresh, d)
	metrics.RecordEnergy(node, metrics.FlowCharged, e.ChargedKWh)
	metrics.RecordEnergy(node, metrics.FlowDischarged, e.DischargedKWh)
	metrics.RecordEnergy(node, metrics.FlowPeerSold, e.PeerSoldKWh)
	metrics.RecordEnergy(node, metrics.FlowPeerBought, e.PeerBoughtKWh)
	metrics.RecordEnergy(node, metrics.FlowGridExport, e.GridExportKWh)
	metrics.RecordEnergy(node, metrics.FlowGridImport, e.GridImportKWh)
}

// IsFatal reports whether err must stop the node.
func IsFatal(err error) bool {
	return errors.Is(err, model.ErrInvalidArgument) || errors.Is(err, peer.ErrNegotiationFailed)
}
