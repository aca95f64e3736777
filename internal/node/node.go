package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"prosumer-p2p/internal/api"
	"prosumer-p2p/internal/clock"
	"prosumer-p2p/internal/config"
	"prosumer-p2p/internal/data"
	"prosumer-p2p/internal/driver"
	"prosumer-p2p/internal/ledger"
	"prosumer-p2p/internal/model"
	"prosumer-p2p/internal/peer"
	"prosumer-p2p/internal/pricing"
	"prosumer-p2p/internal/settlement"
	"prosumer-p2p/internal/sink"
)

// plotKeep is how many recent points a new plot subscriber is replayed.
const plotKeep = 96

// Node is one prosumer: its ledger, settlement engine, peer service and, once
// connected to a transport, its protocol and tick driver.
type Node struct {
	Config  *config.Config
	Series  *model.Series
	Store   *ledger.Store
	Engine  *settlement.Engine
	Tariff  *pricing.Tariff
	Service *peer.Service
	Hub     *sink.Hub

	Protocol *peer.Protocol
	Driver   *driver.Driver

	display sink.Display
	sqlite  *ledger.SQLiteRecorder
	logger  *slog.Logger
}

// Options are the process-level pieces a node cannot take from its config.
type Options struct {
	// Series overrides the configured data source.
	Series *model.Series
	// LCDOut receives the text display when sinks.lcd is on; nil disables it.
	LCDOut io.Writer
	Logger *slog.Logger
}

// New builds everything that does not depend on how the peer is reached.
func New(cfg *config.Config, opts Options) (*Node, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("node", cfg.Node.ID)

	series := opts.Series
	if series == nil {
		var err error
		if series, err = LoadSeries(cfg.Simulation); err != nil {
			return nil, err
		}
	}

	n := &Node{Config: cfg, Series: series, logger: logger}

	var recorders []ledger.Recorder
	if cfg.Ledger.SQLitePath != "" {
		rec, err := ledger.NewSQLiteRecorder(cfg.Ledger.SQLitePath)
		if err != nil {
			return nil, err
		}
		n.sqlite = rec
		recorders = append(recorders, rec)
	}
	n.Store = ledger.NewStore(cfg.Node.ID, recorders...)

	battery, err := cfg.Battery.ToModel()
	if err != nil {
		return nil, n.fail(fmt.Errorf("battery: %w", err))
	}
	strategy, err := cfg.Pricing.NewStrategy()
	if err != nil {
		return nil, n.fail(err)
	}
	if n.Tariff, err = cfg.Pricing.Tariff(); err != nil {
		return nil, n.fail(err)
	}
	n.Engine, err = settlement.New(settlement.Config{
		NodeID:          cfg.Node.ID,
		Battery:         battery,
		Strategy:        strategy,
		Tariff:          n.Tariff,
		Policy:          settlement.Policy(cfg.Trading.Policy),
		InitialCurrency: cfg.Trading.InitialCurrency,
	}, n.Store)
	if err != nil {
		return nil, n.fail(err)
	}

	n.Service = peer.NewService(cfg.Node.ID, peer.NewCache(cfg.Peer.Freshness), logger)
	n.Hub = sink.NewHub(cfg.Sinks.PlotBuffer, plotKeep, logger)
	if cfg.Sinks.LCD && opts.LCDOut != nil {
		n.display = sink.NewLCD(opts.LCDOut)
	}
	return n, nil
}

// LoadSeries reads a prepared series file or builds one from the raw household CSV.
func LoadSeries(s config.SimulationConfig) (*model.Series, error) {
	if s.SeriesFile != "" {
		return data.LoadSeriesJSON(s.SeriesFile)
	}
	return data.Prepare(data.PrepareOptions{
		DataFile:       s.DataFile,
		Household:      s.Household,
		StartDate:      s.StartDate,
		Timescale:      s.Timescale,
		Step:           s.Step,
		GenerationMean: s.Generation.Mean,
		GenerationStd:  s.Generation.Std,
		Seed:           s.Generation.Seed,
	})
}

// Connect attaches the outbound transport and builds the protocol and driver.
func (n *Node) Connect(t peer.Transport) error {
	cfg := n.Config
	source, err := data.NewSliceSource(n.Series.Samples)
	if err != nil {
		return err
	}
	step := n.Series.StepDuration()
	if step <= 0 {
		step = cfg.Simulation.Step
	}
	clk, err := clock.New(time.Now(), source.Start(), step, cfg.Simulation.Speed)
	if err != nil {
		return err
	}

	n.Protocol, err = peer.NewProtocol(peer.Config{
		NodeID:             cfg.Node.ID,
		PeerID:             cfg.Peer.ID,
		Coordinator:        cfg.Node.Coordinator,
		StartOffset:        cfg.Peer.StartOffset,
		NegotiationTimeout: cfg.Peer.NegotiationTimeout,
		ResyncLag:          time.Duration(cfg.Peer.ResyncLag) * step,
		Retry:              cfg.Peer.Retry,
	}, t, n.Service, n.logger)
	if err != nil {
		return err
	}

	opts := driver.Options{
		Clock:         clk,
		Source:        source,
		Engine:        n.Engine,
		Protocol:      n.Protocol,
		Display:       n.display,
		Plotter:       n.Hub,
		FullSyncEvery: cfg.Peer.FullSyncEvery,
		PullOnTick:    cfg.Peer.PullOnTick,
		MaxTicks:      cfg.Simulation.Ticks,
		Logger:        n.logger,
	}
	if cfg.Telemetry.Enabled {
		opts.Telemetry = data.SimulatedTelemetry{
			BusVoltage: cfg.Telemetry.BusVoltage,
			Current:    cfg.Telemetry.Current,
		}
		opts.TelemetryScale = cfg.Telemetry.ScalingFactor
	}
	n.Driver, err = driver.New(opts)
	return err
}

// Handler is the node's HTTP surface.
func (n *Node) Handler() http.Handler {
	deps := api.Deps{
		Store:     n.Store,
		Service:   n.Service,
		PeerID:    n.Config.Peer.ID,
		Tariff:    n.Tariff,
		Hub:       n.Hub,
		PeerRPS:   n.Config.Peer.RateLimit.RPS,
		PeerBurst: n.Config.Peer.RateLimit.Burst,
		Logger:    n.logger,
	}
	if n.Driver != nil {
		deps.Stats = n.Driver.Stats
	}
	return api.NewRouter(deps)
}

// Run starts the plot hub and drives the simulation until it ends or ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	if n.Driver == nil {
		return errors.New("node is not connected to a peer transport")
	}
	hubCtx, stop := context.WithCancel(ctx)
	defer stop()
	go n.Hub.Run(hubCtx)
	return n.Driver.Run(ctx)
}

// Close writes the CSV ledger if configured and releases the store.
func (n *Node) Close() error {
	var errs []error
	if path := n.Config.Ledger.CSVOut; path != "" {
		if err := ledger.WriteCSV(path, n.Store.Entries()); err != nil {
			errs = append(errs, fmt.Errorf("write ledger csv: %w", err))
		} else {
			n.logger.Info("ledger written", "path", path, "entries", n.Store.Len())
		}
	}
	if err := n.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (n *Node) fail(err error) error {
	if n.sqlite != nil {
		_ = n.sqlite.Close()
	}
	return err
}
