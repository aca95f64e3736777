package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gathered reads one series back from the default registry, as /metrics would expose it.
func gathered(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v != lp.GetValue() {
					continue next
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("series %s%v not found", name, labels)
	return 0
}

func TestRecordSettlement(t *testing.T) {
	RecordSettlement("metrics-node", "peer", 0.7, 101.5, 0.15, true, 2*time.Millisecond)
	RecordSettlement("metrics-node", "peer", 0.6, 101.2, 0.18, false, time.Millisecond)

	assert.Equal(t, 2.0, gathered(t, "prosumer_settlement_total", map[string]string{"node": "metrics-node", "counterparty": "peer"}))
	assert.Equal(t, 0.6, gathered(t, "prosumer_battery_soc", map[string]string{"node": "metrics-node"}))
	assert.Equal(t, 101.2, gathered(t, "prosumer_currency", map[string]string{"node": "metrics-node"}))
	assert.Equal(t, 0.0, gathered(t, "prosumer_peer_fresh", map[string]string{"node": "metrics-node"}))
}

func TestRecordEnergySkipsZero(t *testing.T) {
	RecordEnergy("metrics-node", FlowGridImport, 0)
	RecordEnergy("metrics-node", FlowGridImport, 0.25)
	RecordEnergy("metrics-node", FlowGridImport, -1)
	assert.Equal(t, 0.25, gathered(t, "prosumer_energy_kwh_total", map[string]string{"node": "metrics-node", "flow": FlowGridImport}))
}

func TestRecordRPC(t *testing.T) {
	RecordRPC("metrics_test", nil, time.Millisecond)
	RecordRPC("metrics_test", errors.New("boom"), time.Millisecond)
	RecordRPC("metrics_test", errors.New("boom"), time.Millisecond)
	assert.Equal(t, 1.0, gathered(t, "prosumer_peer_rpc_total", map[string]string{"method": "metrics_test", "outcome": "ok"}))
	assert.Equal(t, 2.0, gathered(t, "prosumer_peer_rpc_total", map[string]string{"method": "metrics_test", "outcome": "error"}))
}
