package pricing

import (
	"fmt"
	"strings"
	"time"
)

// Tariff holds the grid prices in currency/kWh.
// An optional daily peak window replaces the buy price:
// - Peak window is [PeakStart, PeakEnd) on a 24h clock, "HH:MM"
// - If PeakStart > PeakEnd the window wraps across midnight
//
// All times are interpreted in the sample timestamp's location.
type Tariff struct {
	BuyPrice  float64
	SellPrice float64

	PeakStart    string
	PeakEnd      string
	PeakBuyPrice float64

	psMins int
	peMins int
	peak   bool
}

func NewTariff(buy, sell float64, peakStart, peakEnd string, peakBuy float64) (*Tariff, error) {
	if buy < 0 || sell < 0 {
		return nil, fmt.Errorf("grid prices must be >= 0 (buy=%.4f sell=%.4f)", buy, sell)
	}
	t := &Tariff{
		BuyPrice:     buy,
		SellPrice:    sell,
		PeakStart:    peakStart,
		PeakEnd:      peakEnd,
		PeakBuyPrice: peakBuy,
	}
	if strings.TrimSpace(peakStart) == "" && strings.TrimSpace(peakEnd) == "" {
		return t, nil
	}
	ps, err := parseHHMM(peakStart)
	if err != nil {
		return nil, err
	}
	pe, err := parseHHMM(peakEnd)
	if err != nil {
		return nil, err
	}
	if peakBuy <= 0 {
		return nil, fmt.Errorf("peak buy price must be > 0 when a peak window is set")
	}
	t.psMins, t.peMins, t.peak = ps, pe, true
	return t, nil
}

// Prices returns the grid (buy, sell) prices that apply at ts.
func (t *Tariff) Prices(ts time.Time) (float64, float64) {
	if t.peak {
		mins := ts.Hour()*60 + ts.Minute()
		if inWindow(mins, t.psMins, t.peMins) {
			return t.PeakBuyPrice, t.SellPrice
		}
	}
	return t.BuyPrice, t.SellPrice
}

func parseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	var h, m int
	if _, err := fmt.Sscanf(parts[0], "%d", &h); err != nil {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &m); err != nil {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return h*60 + m, nil
}

// inWindow checks whether tMins is in [start, end) on a 24h clock.
// If start == end, the window is empty (always false).
func inWindow(tMins, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return tMins >= start && tMins < end
	}
	return tMins >= start || tMins < end
}
