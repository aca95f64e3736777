package model

import "time"

// PeerSnapshot is the per-tick state a node publishes to its peer.
// On the receiving side it is the last state heard from the counterpart and may be stale.
type PeerSnapshot struct {
	NodeID      string    `json:"node_id"`
	Timestamp   time.Time `json:"timestamp"`
	Balance     float64   `json:"balance"`
	SOC         float64   `json:"battery_state_of_charge"`
	Currency    float64   `json:"currency"`
	TradeAmount float64   `json:"trade_amount"`
	Enable      bool      `json:"enable_flag"`
}

// AggregateSnapshot is pushed every few ticks so a peer that missed updates can catch up.
type AggregateSnapshot struct {
	NodeID                  string    `json:"node_id"`
	Timestamp               time.Time `json:"timestamp"`
	Ticks                   int       `json:"ticks"`
	Balance                 float64   `json:"balance"`
	Currency                float64   `json:"currency"`
	SOC                     float64   `json:"battery_state_of_charge"`
	CumulativeDemandKWh     float64   `json:"cumulative_demand_kwh"`
	CumulativeGenerationKWh float64   `json:"cumulative_generation_kwh"`
	// PeerViewTimestamp is the timestamp of the newest snapshot the sender holds for the receiver.
	PeerViewTimestamp time.Time `json:"peer_view_timestamp"`
}

// StartAgreement fixes the common wall-clock origin of a simulation run.
type StartAgreement struct {
	ID             string    `json:"id"`
	StartTime      time.Time `json:"start_time"`
	ParticipantIDs []string  `json:"participant_ids"`
	CoordinatorID  string    `json:"coordinator_id"`
}

// Includes reports whether nodeID is a participant.
func (a StartAgreement) Includes(nodeID string) bool {
	for _, id := range a.ParticipantIDs {
		if id == nodeID {
			return true
		}
	}
	return false
}
