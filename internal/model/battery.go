package model

import (
	"errors"
	"fmt"
	"math"
)

// DefaultDepthOfDischarge is used when a battery config leaves depth_of_discharge unset.
const DefaultDepthOfDischarge = 0.8

// ErrInvalidArgument marks a caller bug such as a negative energy amount.
var ErrInvalidArgument = errors.New("invalid argument")

// BatteryState is the full state of a home battery.
// Units:
// - CapacityKWh: kWh
// - SOC: fraction 0..1
// - DepthOfDischarge: fraction of capacity allowed to be withdrawn; 1-DepthOfDischarge is the SOC floor
type BatteryState struct {
	CapacityKWh      float64 `json:"capacity_kwh"`
	SOC              float64 `json:"soc"`
	DepthOfDischarge float64 `json:"depth_of_discharge"`
}

func NewBatteryState(capacityKWh, initialSOC, depthOfDischarge float64) (BatteryState, error) {
	if depthOfDischarge == 0 {
		depthOfDischarge = DefaultDepthOfDischarge
	}
	s := BatteryState{
		CapacityKWh:      capacityKWh,
		SOC:              initialSOC,
		DepthOfDischarge: depthOfDischarge,
	}
	if err := s.Validate(); err != nil {
		return BatteryState{}, err
	}
	return s, nil
}

func (s BatteryState) Validate() error {
	if s.CapacityKWh <= 0 {
		return errors.New("CapacityKWh must be > 0")
	}
	if s.DepthOfDischarge <= 0 || s.DepthOfDischarge > 1 {
		return errors.New("DepthOfDischarge must be in (0, 1]")
	}
	if s.SOC < 0 || s.SOC > 1 {
		return errors.New("SOC must be in [0, 1]")
	}
	return nil
}

// FloorSOC is the lowest SOC the battery may be discharged to.
func (s BatteryState) FloorSOC() float64 {
	return 1 - s.DepthOfDischarge
}

// StoredKWh is the energy currently held.
func (s BatteryState) StoredKWh() float64 {
	return s.SOC * s.CapacityKWh
}

// Charge stores as much of excessKWh as the battery can hold.
// Whatever does not fit is returned as energy sold to the grid.
func Charge(excessKWh float64, s BatteryState) (BatteryState, float64, error) {
	if excessKWh < 0 || math.IsNaN(excessKWh) {
		return s, 0, fmt.Errorf("charge %.6f kWh: %w", excessKWh, ErrInvalidArgument)
	}

	available := s.CapacityKWh * (1 - s.SOC)
	soldToGrid := 0.0
	switch {
	case available <= 0:
		s.SOC = 1
		soldToGrid = excessKWh
	case available >= excessKWh:
		s.SOC += excessKWh / s.CapacityKWh
	default:
		s.SOC = 1
		soldToGrid = excessKWh - available
	}

	s.SOC = clampSOC(s.SOC, s.FloorSOC())
	return s, soldToGrid, nil
}

// Discharge supplies deficitKWh from the energy above the SOC floor.
// The shortfall is returned as energy bought from the grid.
func Discharge(deficitKWh float64, s BatteryState) (BatteryState, float64, error) {
	if deficitKWh < 0 || math.IsNaN(deficitKWh) {
		return s, 0, fmt.Errorf("discharge %.6f kWh: %w", deficitKWh, ErrInvalidArgument)
	}

	floor := s.FloorSOC()
	available := (s.SOC - floor) * s.CapacityKWh
	boughtFromGrid := 0.0
	switch {
	case available <= 0:
		s.SOC = floor
		boughtFromGrid = deficitKWh
	case available >= deficitKWh:
		s.SOC -= deficitKWh / s.CapacityKWh
	default:
		s.SOC = floor
		boughtFromGrid = deficitKWh - available
	}

	s.SOC = clampSOC(s.SOC, floor)
	return s, boughtFromGrid, nil
}

// clampSOC absorbs floating point drift at the bounds.
func clampSOC(soc, floor float64) float64 {
	if soc < floor {
		return floor
	}
	if soc > 1 {
		return 1
	}
	return soc
}
