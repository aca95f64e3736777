package data

import (
	"fmt"
	"time"

	"prosumer-p2p/internal/model"
)

// PrepareOptions describes how to turn a household's raw readings into a simulation series.
type PrepareOptions struct {
	DataFile  string
	Household string
	StartDate string
	Timescale string
	Step      time.Duration

	GenerationMean float64
	GenerationStd  float64
	Seed           int64
}

// Prepare loads the household window, resamples it to Step and adds synthetic generation.
func Prepare(opts PrepareOptions) (*model.Series, error) {
	start, end, err := Window(opts.StartDate, opts.Timescale)
	if err != nil {
		return nil, err
	}
	raw, err := LoadHouseholdCSV(opts.DataFile, opts.Household, start, end)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", opts.DataFile, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no readings for household %s between %s and %s",
			opts.Household, start.Format(DateLayout), end.Format(DateLayout))
	}
	samples, err := Resample(raw, opts.Step)
	if err != nil {
		return nil, err
	}
	samples = SimulateGeneration(samples, opts.GenerationMean, opts.GenerationStd, opts.Seed)
	return &model.Series{
		Household: opts.Household,
		Step:      opts.Step.String(),
		Samples:   samples,
	}, nil
}
