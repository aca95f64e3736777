package data

import (
	"math/rand"

	"prosumer-p2p/internal/model"
)

// Synthetic generation defaults, in kWh per interval.
const (
	DefaultGenerationMean = 0.5
	DefaultGenerationStd  = 0.2
	DefaultGenerationSeed = 42
)

// SimulateGeneration fills GenerationKWh with draws from N(mean, std), clipped at 0.
// The same seed always yields the same series.
func SimulateGeneration(samples []model.EnergySample, mean, std float64, seed int64) []model.EnergySample {
	rng := rand.New(rand.NewSource(seed))
	out := make([]model.EnergySample, len(samples))
	for i, s := range samples {
		g := rng.NormFloat64()*std + mean
		if g < 0 {
			g = 0
		}
		s.GenerationKWh = g
		out[i] = s
	}
	return out
}
