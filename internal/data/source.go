package data

import (
	"fmt"
	"time"

	"prosumer-p2p/internal/model"
)

// Source yields the sample for each simulated tick.
type Source interface {
	Len() int
	Sample(index int) (model.EnergySample, bool)
}

// SliceSource serves a prepared, strictly increasing series.
type SliceSource struct {
	samples []model.EnergySample
}

func NewSliceSource(samples []model.EnergySample) (*SliceSource, error) {
	for i, s := range samples {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		if i > 0 && !s.Timestamp.After(samples[i-1].Timestamp) {
			return nil, fmt.Errorf("sample %d at %s is not after the previous one", i, s.Timestamp.Format(time.RFC3339))
		}
	}
	return &SliceSource{samples: samples}, nil
}

func (s *SliceSource) Len() int { return len(s.samples) }

func (s *SliceSource) Sample(index int) (model.EnergySample, bool) {
	if index < 0 || index >= len(s.samples) {
		return model.EnergySample{}, false
	}
	return s.samples[index], true
}

// Start is the timestamp of the first sample, zero when empty.
func (s *SliceSource) Start() time.Time {
	if len(s.samples) == 0 {
		return time.Time{}
	}
	return s.samples[0].Timestamp
}
