package model

import (
	"fmt"
	"time"
)

// EnergySample is one interval of household demand and generation.
type EnergySample struct {
	Timestamp     time.Time `json:"timestamp"`
	DemandKWh     float64   `json:"demand_kwh"`
	GenerationKWh float64   `json:"generation_kwh"`
}

func (s EnergySample) Validate() error {
	if s.DemandKWh < 0 {
		return fmt.Errorf("demand %.6f kWh at %s: %w", s.DemandKWh, s.Timestamp.Format(time.RFC3339), ErrInvalidArgument)
	}
	if s.GenerationKWh < 0 {
		return fmt.Errorf("generation %.6f kWh at %s: %w", s.GenerationKWh, s.Timestamp.Format(time.RFC3339), ErrInvalidArgument)
	}
	return nil
}

// Balance is generation minus demand; positive means surplus.
func (s EnergySample) Balance() float64 {
	return s.GenerationKWh - s.DemandKWh
}

// Series matches the JSON shape of a prepared series file.
//
// Example:
//
//	{
//	  "household": "MAC000002",
//	  "step": "30m0s",
//	  "samples": [ ... ]
//	}
type Series struct {
	Household string         `json:"household"`
	Step      string         `json:"step"`
	Samples   []EnergySample `json:"samples"`
}

// StepDuration parses Step, falling back to the spacing of the first two samples.
func (s Series) StepDuration() time.Duration {
	if d, err := time.ParseDuration(s.Step); err == nil && d > 0 {
		return d
	}
	if len(s.Samples) >= 2 {
		return s.Samples[1].Timestamp.Sub(s.Samples[0].Timestamp)
	}
	return 0
}
