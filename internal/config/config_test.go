package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prosumer-p2p/internal/data"
	"prosumer-p2p/internal/pricing"
	"prosumer-p2p/internal/settlement"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

const minimal = `
node:
  id: node-a
peer:
  id: node-b
  url: http://localhost:8082
battery:
  capacity_kwh: 5
simulation:
  series_file: series.json
`

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "series.json", `{"samples":[]}`)
	cfg, err := Load(writeFile(t, dir, "node.yaml", minimal))
	require.NoError(t, err)

	assert.Equal(t, DefaultListen, cfg.Node.Listen)
	assert.Equal(t, DefaultFreshness, cfg.Peer.Freshness)
	assert.Equal(t, DefaultFullSyncEvery, cfg.Peer.FullSyncEvery)
	assert.Equal(t, 3, cfg.Peer.Retry.MaxRetries)
	assert.Equal(t, DefaultInitialSOC, cfg.Battery.InitialSOC)
	assert.Equal(t, 0.8, cfg.Battery.DepthOfDischarge)
	assert.Equal(t, pricing.StrategyLinearSDR, cfg.Pricing.Strategy)
	assert.Equal(t, DefaultBuyGridPrice, cfg.Pricing.BuyGridPrice)
	assert.Equal(t, DefaultSellGridPrice, cfg.Pricing.SellGridPrice)
	assert.Equal(t, string(settlement.PolicyBatteryFirst), cfg.Trading.Policy)
	assert.Equal(t, DefaultInitialCurrency, cfg.Trading.InitialCurrency)
	assert.Equal(t, DefaultStep, cfg.Simulation.Step)
	assert.Equal(t, data.TimescaleDay, cfg.Simulation.Timescale)
	assert.Equal(t, filepath.Join(dir, "series.json"), cfg.Simulation.SeriesFile)
}

func TestLoadParsesDurationsAndBatteryFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "batteries/home.yaml", `
battery:
  name: home
  capacity_kwh: 10
  initial_soc: 0.4
  depth_of_discharge: 0.9
`)
	cfg, err := Load(writeFile(t, dir, "node.yaml", `
node:
  id: node-a
  coordinator: true
peer:
  id: node-b
  url: http://localhost:8082
  freshness: 45s
  retry:
    max_retries: 5
    timeout: 2s
    backoff: 100ms
battery_file: batteries/home.yaml
battery:
  initial_soc: 0.7
simulation:
  series_file: series.json
  step: 15m
`))
	require.NoError(t, err)

	assert.True(t, cfg.Node.Coordinator)
	assert.Equal(t, 45*time.Second, cfg.Peer.Freshness)
	assert.Equal(t, 5, cfg.Peer.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Peer.Retry.Timeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Peer.Retry.Backoff)
	assert.Equal(t, 15*time.Minute, cfg.Simulation.Step)

	assert.Equal(t, "home", cfg.Battery.Name)
	assert.Equal(t, 10.0, cfg.Battery.CapacityKWh)
	assert.Equal(t, 0.7, cfg.Battery.InitialSOC)
	assert.Equal(t, 0.9, cfg.Battery.DepthOfDischarge)

	batt, err := cfg.Battery.ToModel()
	require.NoError(t, err)
	assert.InDelta(t, 0.1, batt.FloorSOC(), 1e-12)
}

func TestLoadMissingBatteryFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(writeFile(t, dir, "node.yaml", minimal+"battery_file: nope.yaml\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{
			Node:       NodeConfig{ID: "node-a"},
			Peer:       PeerConfig{ID: "node-b", URL: "http://localhost:8082"},
			Battery:    BatteryConfig{CapacityKWh: 5},
			Simulation: SimulationConfig{SeriesFile: "series.json"},
		}
		c.ApplyDefaults()
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing peer id", func(c *Config) { c.Peer.ID = "" }},
		{"peer is self", func(c *Config) { c.Peer.ID = c.Node.ID }},
		{"missing peer url", func(c *Config) { c.Peer.URL = "" }},
		{"no retries", func(c *Config) { c.Peer.Retry.MaxRetries = -1 }},
		{"bad capacity", func(c *Config) { c.Battery.CapacityKWh = 0 }},
		{"bad soc", func(c *Config) { c.Battery.InitialSOC = 1.5 }},
		{"bad strategy", func(c *Config) { c.Pricing.Strategy = "vickrey" }},
		{"bad peak", func(c *Config) { c.Pricing.Peak = PeakConfig{Start: "25:00", End: "20:00", BuyPrice: 0.3} }},
		{"bad policy", func(c *Config) { c.Trading.Policy = "grid_first" }},
		{"no data", func(c *Config) { c.Simulation.SeriesFile = "" }},
		{"csv without household", func(c *Config) { c.Simulation.DataFile = "london.csv" }},
		{"bad speed", func(c *Config) { c.Simulation.Speed = -1 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestApplyDefaultsGeneratesNodeID(t *testing.T) {
	c := &Config{}
	c.ApplyDefaults()
	assert.Len(t, c.Node.ID, 36)
}

func TestMergeBattery(t *testing.T) {
	base := BatteryConfig{Name: "a", CapacityKWh: 10, InitialSOC: 0.5, DepthOfDischarge: 0.8}
	out := MergeBattery(base, BatteryConfig{CapacityKWh: 12})
	assert.Equal(t, "a", out.Name)
	assert.Equal(t, 12.0, out.CapacityKWh)
	assert.Equal(t, 0.5, out.InitialSOC)
}

func TestLoadExamples(t *testing.T) {
	for _, name := range []string{"node-a.yaml", "node-b.yaml"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(filepath.Join("..", "..", "examples", name))
			require.NoError(t, err)
			assert.Equal(t, 10.0, cfg.Battery.CapacityKWh)
			_, err = os.Stat(cfg.Simulation.DataFile)
			assert.NoError(t, err)
		})
	}
}
