package data

import (
	"encoding/json"
	"fmt"
	"os"

	"prosumer-p2p/internal/model"
)

func LoadSeriesJSON(path string) (*model.Series, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s model.Series
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	for i, smp := range s.Samples {
		if err := smp.Validate(); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		if i > 0 && !smp.Timestamp.After(s.Samples[i-1].Timestamp) {
			return nil, fmt.Errorf("sample %d: timestamps must be strictly increasing", i)
		}
	}
	return &s, nil
}

func SaveSeriesJSON(path string, s *model.Series) error {
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
