package data

import (
	"context"
	"time"
)

// Reading is one power-monitor measurement.
// Units: BusVoltage V, Current A, Power W.
type Reading struct {
	BusVoltage float64 `json:"bus_voltage"`
	Current    float64 `json:"current"`
	Power      float64 `json:"power"`
}

// Telemetry is the live power monitor of a node's generation.
type Telemetry interface {
	Read(ctx context.Context) (Reading, error)
}

// SimulatedTelemetry returns a canned reading.
type SimulatedTelemetry struct {
	BusVoltage float64
	Current    float64
}

func (s SimulatedTelemetry) Read(ctx context.Context) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}
	return Reading{
		BusVoltage: s.BusVoltage,
		Current:    s.Current,
		Power:      s.BusVoltage * s.Current,
	}, nil
}

// GenerationKWh converts a reading held for one step into energy, scaled to household size.
func GenerationKWh(r Reading, scalingFactor float64, step time.Duration) float64 {
	kwh := r.Power * scalingFactor * step.Hours() / 1000
	if kwh < 0 {
		return 0
	}
	return kwh
}
