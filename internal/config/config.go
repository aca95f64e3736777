package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"prosumer-p2p/internal/data"
	"prosumer-p2p/internal/model"
	"prosumer-p2p/internal/peer"
	"prosumer-p2p/internal/pricing"
	"prosumer-p2p/internal/settlement"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListen          = ":8080"
	DefaultFreshness       = 30 * time.Second
	DefaultFullSyncEvery   = 5
	DefaultResyncLag       = 2
	DefaultInitialSOC      = 0.5
	DefaultInitialCurrency = 100.0
	DefaultBuyGridPrice    = 0.20
	DefaultSellGridPrice   = 0.10
	DefaultStep            = 30 * time.Minute
	DefaultSpeed           = 1800.0
	DefaultRateLimitRPS    = 50.0
	DefaultRateLimitBurst  = 100
	DefaultPlotBuffer      = 256
)

// Config is the on-disk configuration shape (YAML) of one node.
type Config struct {
	Node NodeConfig `yaml:"node"`
	Peer PeerConfig `yaml:"peer"`

	// Optional: load battery parameters from a separate YAML (e.g. examples/batteries/*.yaml).
	// If both BatteryFile and Battery are provided, Battery overrides BatteryFile.
	BatteryFile string        `yaml:"battery_file"`
	Battery     BatteryConfig `yaml:"battery"`

	Pricing    PricingConfig    `yaml:"pricing"`
	Trading    TradingConfig    `yaml:"trading"`
	Simulation SimulationConfig `yaml:"simulation"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Sinks      SinkConfig       `yaml:"sinks"`
	Log        LogConfig        `yaml:"log"`
}

type NodeConfig struct {
	ID          string `yaml:"id"`
	Listen      string `yaml:"listen"`
	Coordinator bool   `yaml:"coordinator"`
}

type PeerConfig struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`

	Freshness          time.Duration `yaml:"freshness"`
	StartOffset        time.Duration `yaml:"start_offset"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	// FullSyncEvery is the number of ticks between aggregate syncs.
	FullSyncEvery int `yaml:"full_sync_every"`
	// ResyncLag is in ticks.
	ResyncLag int `yaml:"resync_lag"`
	// PullOnTick also fetches the peer's snapshot before each settlement.
	PullOnTick bool `yaml:"pull_on_tick"`

	Retry     peer.RetryPolicy `yaml:"retry"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BatteryConfig struct {
	Name             string  `yaml:"name"`
	CapacityKWh      float64 `yaml:"capacity_kwh"`
	InitialSOC       float64 `yaml:"initial_soc"`
	DepthOfDischarge float64 `yaml:"depth_of_discharge"`
}

type PricingConfig struct {
	Strategy      string     `yaml:"strategy"`
	BuyGridPrice  float64    `yaml:"buy_grid_price"`
	SellGridPrice float64    `yaml:"sell_grid_price"`
	PMin          float64    `yaml:"p_min"`
	PMax          float64    `yaml:"p_max"`
	Peak          PeakConfig `yaml:"peak"`
}

type PeakConfig struct {
	Start    string  `yaml:"start"`
	End      string  `yaml:"end"`
	BuyPrice float64 `yaml:"buy_price"`
}

type TradingConfig struct {
	Policy          string  `yaml:"policy"`
	InitialCurrency float64 `yaml:"initial_currency"`
}

type SimulationConfig struct {
	// DataFile is a London smart-meter CSV; SeriesFile a prepared JSON series. One is required.
	DataFile   string `yaml:"data_file"`
	SeriesFile string `yaml:"series_file"`
	Household  string `yaml:"household"`
	StartDate  string `yaml:"start_date"`
	// Timescale is d, w, m or y.
	Timescale string        `yaml:"timescale"`
	Step      time.Duration `yaml:"step"`
	// Speed is simulated seconds per wall second.
	Speed float64 `yaml:"speed"`
	// Ticks limits the run; 0 runs the whole series.
	Ticks      int              `yaml:"ticks"`
	Generation GenerationConfig `yaml:"generation"`
}

type GenerationConfig struct {
	Mean float64 `yaml:"mean"`
	Std  float64 `yaml:"std"`
	Seed int64   `yaml:"seed"`
}

type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	ScalingFactor float64 `yaml:"scaling_factor"`
	BusVoltage    float64 `yaml:"bus_voltage"`
	Current       float64 `yaml:"current"`
}

type LedgerConfig struct {
	CSVOut     string `yaml:"csv_out"`
	SQLitePath string `yaml:"sqlite_path"`
}

type SinkConfig struct {
	LCD        bool `yaml:"lcd"`
	PlotBuffer int  `yaml:"plot_buffer"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	c, err := LoadUnchecked(path)
	if err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadUnchecked loads and merges config, but does not validate it.
// Useful for debugging/printing partial configs.
func LoadUnchecked(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	// If battery_file is set, load it and merge in any explicit overrides from c.Battery.
	if c.BatteryFile != "" {
		loaded, err := loadBatteryFile(resolve(path, c.BatteryFile))
		if err != nil {
			return nil, err
		}
		c.Battery = MergeBattery(loaded, c.Battery)
	}
	c.Simulation.DataFile = resolve(path, c.Simulation.DataFile)
	c.Simulation.SeriesFile = resolve(path, c.Simulation.SeriesFile)
	return &c, nil
}

// resolve prefers interpreting relative paths as relative to the config file directory,
// but falls back to the provided path (relative to cwd) if that doesn't exist.
func resolve(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	cand := filepath.Join(filepath.Dir(configPath), p)
	if _, err := os.Stat(cand); err == nil {
		return cand
	}
	return p
}

// ApplyDefaults fills unset fields. A missing node id becomes a random uuid.
func (c *Config) ApplyDefaults() {
	if c.Node.ID == "" {
		c.Node.ID = uuid.NewString()
	}
	if c.Node.Listen == "" {
		c.Node.Listen = DefaultListen
	}

	p := &c.Peer
	if p.Freshness == 0 {
		p.Freshness = DefaultFreshness
	}
	if p.StartOffset == 0 {
		p.StartOffset = peer.DefaultStartOffset
	}
	if p.NegotiationTimeout == 0 {
		p.NegotiationTimeout = peer.DefaultNegotiationTimeout
	}
	if p.FullSyncEvery == 0 {
		p.FullSyncEvery = DefaultFullSyncEvery
	}
	if p.ResyncLag == 0 {
		p.ResyncLag = DefaultResyncLag
	}
	def := peer.DefaultRetryPolicy()
	if p.Retry.MaxRetries == 0 {
		p.Retry.MaxRetries = def.MaxRetries
	}
	if p.Retry.Timeout == 0 {
		p.Retry.Timeout = def.Timeout
	}
	if p.Retry.BackoffFactor == 0 {
		p.Retry.BackoffFactor = def.BackoffFactor
	}
	if p.RateLimit.RPS == 0 {
		p.RateLimit.RPS = DefaultRateLimitRPS
	}
	if p.RateLimit.Burst == 0 {
		p.RateLimit.Burst = DefaultRateLimitBurst
	}

	// If initial_soc is not provided, start half full.
	if c.Battery.InitialSOC == 0 {
		c.Battery.InitialSOC = DefaultInitialSOC
	}
	if c.Battery.DepthOfDischarge == 0 {
		c.Battery.DepthOfDischarge = model.DefaultDepthOfDischarge
	}

	if c.Pricing.Strategy == "" {
		c.Pricing.Strategy = pricing.StrategyLinearSDR
	}
	if c.Pricing.BuyGridPrice == 0 && c.Pricing.SellGridPrice == 0 {
		c.Pricing.BuyGridPrice = DefaultBuyGridPrice
		c.Pricing.SellGridPrice = DefaultSellGridPrice
	}

	if c.Trading.Policy == "" {
		c.Trading.Policy = string(settlement.PolicyBatteryFirst)
	}
	if c.Trading.InitialCurrency == 0 {
		c.Trading.InitialCurrency = DefaultInitialCurrency
	}

	s := &c.Simulation
	if s.Step == 0 {
		s.Step = DefaultStep
	}
	if s.Speed == 0 {
		s.Speed = DefaultSpeed
	}
	if s.Timescale == "" {
		s.Timescale = data.TimescaleDay
	}
	if s.Generation.Mean == 0 && s.Generation.Std == 0 {
		s.Generation.Mean = data.DefaultGenerationMean
		s.Generation.Std = data.DefaultGenerationStd
	}
	if s.Generation.Seed == 0 {
		s.Generation.Seed = data.DefaultGenerationSeed
	}

	if c.Telemetry.ScalingFactor == 0 {
		c.Telemetry.ScalingFactor = 1
	}
	if c.Sinks.PlotBuffer == 0 {
		c.Sinks.PlotBuffer = DefaultPlotBuffer
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Node.ID == "" {
		return errors.New("node.id is required")
	}
	if c.Peer.ID == "" {
		return errors.New("peer.id is required")
	}
	if c.Peer.ID == c.Node.ID {
		return fmt.Errorf("peer.id must differ from node.id (%s)", c.Node.ID)
	}
	if c.Peer.URL == "" {
		return errors.New("peer.url is required")
	}
	if c.Peer.FullSyncEvery < 0 || c.Peer.ResyncLag < 0 {
		return errors.New("peer.full_sync_every and peer.resync_lag must be >= 0")
	}
	if c.Peer.Retry.MaxRetries < 1 {
		return errors.New("peer.retry.max_retries must be >= 1")
	}

	if _, err := c.Battery.ToModel(); err != nil {
		return fmt.Errorf("battery config invalid: %w", err)
	}
	if _, err := c.Pricing.NewStrategy(); err != nil {
		return err
	}
	if _, err := c.Pricing.Tariff(); err != nil {
		return fmt.Errorf("pricing config invalid: %w", err)
	}
	if _, err := settlement.ParsePolicy(c.Trading.Policy); err != nil {
		return err
	}

	s := c.Simulation
	if s.DataFile == "" && s.SeriesFile == "" {
		return errors.New("simulation.data_file or simulation.series_file is required")
	}
	if s.DataFile != "" {
		if s.Household == "" {
			return errors.New("simulation.household is required with data_file")
		}
		if _, err := time.Parse(data.DateLayout, s.StartDate); err != nil {
			return fmt.Errorf("simulation.start_date: %w", err)
		}
		if _, err := data.TimescaleDuration(s.Timescale); err != nil {
			return err
		}
	}
	if s.Step <= 0 {
		return errors.New("simulation.step must be > 0")
	}
	if s.Speed <= 0 {
		return errors.New("simulation.speed must be > 0")
	}
	if s.Generation.Std < 0 {
		return errors.New("simulation.generation.std must be >= 0")
	}
	if c.Telemetry.Enabled && c.Telemetry.ScalingFactor <= 0 {
		return errors.New("telemetry.scaling_factor must be > 0")
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func (b BatteryConfig) ToModel() (model.BatteryState, error) {
	return model.NewBatteryState(b.CapacityKWh, b.InitialSOC, b.DepthOfDischarge)
}

// NewStrategy builds the configured pricing strategy.
func (p PricingConfig) NewStrategy() (pricing.Strategy, error) {
	return pricing.New(p.Strategy, pricing.Params{PMin: p.PMin, PMax: p.PMax})
}

func (p PricingConfig) Tariff() (*pricing.Tariff, error) {
	return pricing.NewTariff(p.BuyGridPrice, p.SellGridPrice, p.Peak.Start, p.Peak.End, p.Peak.BuyPrice)
}

type batteryFileWrapper struct {
	Battery BatteryConfig `yaml:"battery"`
}

func loadBatteryFile(path string) (BatteryConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return BatteryConfig{}, err
	}
	var w batteryFileWrapper
	if err := yaml.Unmarshal(raw, &w); err != nil {
		return BatteryConfig{}, err
	}
	return w.Battery, nil
}

// MergeBattery overlays non-zero fields from override onto base.
func MergeBattery(base, override BatteryConfig) BatteryConfig {
	out := base
	if override.Name != "" {
		out.Name = override.Name
	}
	if override.CapacityKWh != 0 {
		out.CapacityKWh = override.CapacityKWh
	}
	if override.InitialSOC != 0 {
		out.InitialSOC = override.InitialSOC
	}
	if override.DepthOfDischarge != 0 {
		out.DepthOfDischarge = override.DepthOfDischarge
	}
	return out
}
