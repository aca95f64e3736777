package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	settlementTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prosumer_settlement_total",
			Help: "Total number of settled ticks by counterparty",
		},
		[]string{"node", "counterparty"},
	)

	energyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prosumer_energy_kwh_total",
			Help: "Energy disposed of per flow in kWh",
		},
		[]string{"node", "flow"},
	)

	tickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prosumer_tick_duration_seconds",
			Help:    "Wall time spent settling and publishing one tick",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0},
		},
		[]string{"node"},
	)

	batterySOC = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prosumer_battery_soc",
			Help: "Battery state of charge after the last tick (0..1)",
		},
		[]string{"node"},
	)

	currency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prosumer_currency",
			Help: "Currency balance after the last tick",
		},
		[]string{"node"},
	)

	peerPrice = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prosumer_peer_price",
			Help: "P2P clearing price of the last tick",
		},
		[]string{"node"},
	)

	peerFresh = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prosumer_peer_fresh",
			Help: "1 when the last tick had usable peer data, 0 otherwise",
		},
		[]string{"node"},
	)

	rpcTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prosumer_peer_rpc_total",
			Help: "Outbound peer RPC calls by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	rpcAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prosumer_peer_rpc_attempts_total",
			Help: "Outbound peer RPC attempts including retries",
		},
		[]string{"method"},
	)

	rpcDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prosumer_peer_rpc_duration_seconds",
			Help:    "Outbound peer RPC duration including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0},
		},
		[]string{"method"},
	)

	inboundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prosumer_peer_inbound_total",
			Help: "Inbound peer RPC messages by method",
		},
		[]string{"method"},
	)

	plotDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prosumer_plot_points_dropped_total",
			Help: "Plot points dropped because the sink was full",
		},
	)
)

// Flows as reported by RecordEnergy.
const (
	FlowCharged    = "charged"
	FlowDischarged = "discharged"
	FlowPeerSold   = "peer_sold"
	FlowPeerBought = "peer_bought"
	FlowGridExport = "grid_export"
	FlowGridImport = "grid_import"
)

// RecordSettlement records the outcome of one settled tick.
func RecordSettlement(node, counterparty string, soc, balance, price float64, fresh bool, d time.Duration) {
	settlementTotal.WithLabelValues(node, counterparty).Inc()
	batterySOC.WithLabelValues(node).Set(soc)
	currency.WithLabelValues(node).Set(balance)
	peerPrice.WithLabelValues(node).Set(price)
	if fresh {
		peerFresh.WithLabelValues(node).Set(1)
	} else {
		peerFresh.WithLabelValues(node).Set(0)
	}
	tickDuration.WithLabelValues(node).Observe(d.Seconds())
}

// RecordEnergy adds kwh to a flow. Zero amounts are skipped.
func RecordEnergy(node, flow string, kwh float64) {
	if kwh <= 0 {
		return
	}
	energyTotal.WithLabelValues(node, flow).Add(kwh)
}

func RecordRPCAttempt(method string) {
	rpcAttempts.WithLabelValues(method).Inc()
}

// RecordRPC records a finished outbound call; outcome is "ok" or "error".
func RecordRPC(method string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	rpcTotal.WithLabelValues(method, outcome).Inc()
	rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

func RecordInbound(method string) {
	inboundTotal.WithLabelValues(method).Inc()
}

func RecordPlotDropped() {
	plotDropped.Inc()
}
