package data

import (
	"fmt"
	"sort"
	"time"

	"prosumer-p2p/internal/model"
)

// Resample sums samples into buckets of step, aligned to multiples of step since the epoch.
// Empty buckets are not emitted. Input order does not matter; output is sorted.
func Resample(samples []model.EnergySample, step time.Duration) ([]model.EnergySample, error) {
	if step <= 0 {
		return nil, fmt.Errorf("resample step must be > 0, got %s", step)
	}
	buckets := map[int64]*model.EnergySample{}
	for _, s := range samples {
		ts := s.Timestamp.Truncate(step)
		key := ts.UnixNano()
		b, ok := buckets[key]
		if !ok {
			b = &model.EnergySample{Timestamp: ts}
			buckets[key] = b
		}
		b.DemandKWh += s.DemandKWh
		b.GenerationKWh += s.GenerationKWh
	}

	out := make([]model.EnergySample, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
