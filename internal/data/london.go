package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"prosumer-p2p/internal/model"
)

// Column names of the London smart-meter half-hourly dataset.
const (
	colHousehold = "LCLid"
	colTimestamp = "tstp"
	colEnergy    = "energy(kWh/hh)"
)

const londonTimestampLayout = "2006-01-02 15:04:05"

// LoadHouseholdCSV reads the demand of one household in [start, end) from a London
// smart-meter CSV. Rows whose energy is "Null" are skipped. Generation is left at zero.
// A zero start or end leaves that side open.
func LoadHouseholdCSV(path, household string, start, end time.Time) ([]model.EnergySample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadHouseholdCSV(f, household, start, end)
}

func ReadHouseholdCSV(r io.Reader, household string, start, end time.Time) ([]model.EnergySample, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := map[string]int{}
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	hCol, ok1 := idx[colHousehold]
	tCol, ok2 := idx[colTimestamp]
	eCol, ok3 := idx[colEnergy]
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("missing columns: need %s, %s, %s", colHousehold, colTimestamp, colEnergy)
	}

	var out []model.EnergySample
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(rec) <= eCol || len(rec) <= tCol || len(rec) <= hCol {
			continue
		}
		if strings.TrimSpace(rec[hCol]) != household {
			continue
		}
		energy := strings.TrimSpace(rec[eCol])
		if energy == "" || strings.EqualFold(energy, "Null") {
			continue
		}

		ts, err := parseLondonTimestamp(rec[tCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if !start.IsZero() && ts.Before(start) {
			continue
		}
		if !end.IsZero() && !ts.Before(end) {
			continue
		}
		kwh, err := strconv.ParseFloat(energy, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: energy %q: %w", line, energy, err)
		}
		out = append(out, model.EnergySample{Timestamp: ts, DemandKWh: kwh})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// parseLondonTimestamp accepts "2013-01-01 00:30:00.0000000" and its shorter forms.
func parseLondonTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	ts, err := time.ParseInLocation(londonTimestampLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return ts, nil
}
