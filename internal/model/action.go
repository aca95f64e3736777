package model

// Action is a human-friendly battery operating mode for a tick.
// Keep these values stable; they are intended for CSV output.
type Action string

const (
	ActionCharging    Action = "CHARGING"
	ActionIdle        Action = "IDLE"
	ActionDischarging Action = "DISCHARGING"
)

// ActionFromSOC derives the mode from the SOC movement over a tick.
func ActionFromSOC(start, end float64) Action {
	switch {
	case end > start:
		return ActionCharging
	case end < start:
		return ActionDischarging
	default:
		return ActionIdle
	}
}

// Counterparty names who took the residual energy of a tick.
type Counterparty string

const (
	CounterpartyNone Counterparty = "none"
	CounterpartyGrid Counterparty = "grid"
	CounterpartyPeer Counterparty = "peer"
)
