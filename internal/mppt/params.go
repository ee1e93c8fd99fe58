package mppt

import (
	"fmt"
	"time"
)

type Params struct {
	SeedFraction float64 // initial trial voltage as a fraction of array Voc
	MinVoltage   float64 // trial voltage floor, V

	PerturbStepFraction float64 // P&O step as a fraction of array Voc
	HistorySize         int     // P&O trial voltages kept for lock detection
	LockSpreadFraction  float64 // P&O locks when history spread is below this fraction of Voc

	IncCondStepFraction float64       // IncCond step as a fraction of array Voc
	MinVoltageDelta     float64       // |dV| at or below this is treated as at-peak, V
	PeakTolerance       float64       // |dI/dV + I/V| below this is treated as at-peak
	DitherAmplitude     float64       // verification dither, V
	StabilityWindow     time.Duration // time at peak before IncCond locks

	IrradianceDeadband  float64 // W/m², changes above this invalidate tracking
	TemperatureDeadband float64 // °C, changes above this invalidate tracking
}

func DefaultParams() Params {
	return Params{
		SeedFraction:        0.7,
		MinVoltage:          1,
		PerturbStepFraction: 0.012,
		HistorySize:         60,
		LockSpreadFraction:  0.05,
		IncCondStepFraction: 0.002,
		MinVoltageDelta:     0.05,
		PeakTolerance:       0.05,
		DitherAmplitude:     0.05,
		StabilityWindow:     3 * time.Second,
		IrradianceDeadband:  1,
		TemperatureDeadband: 0.5,
	}
}

func (p *Params) Validate() error {
	if p.SeedFraction <= 0 || p.SeedFraction > 1 {
		return fmt.Errorf("%w: seed fraction must be in (0,1]", ErrInvalidParams)
	}
	if p.PerturbStepFraction <= 0 || p.IncCondStepFraction <= 0 {
		return fmt.Errorf("%w: step fractions must be strictly positive", ErrInvalidParams)
	}
	if p.HistorySize < 1 {
		return fmt.Errorf("%w: history size must be at least 1", ErrInvalidParams)
	}
	if p.LockSpreadFraction <= 0 || p.PeakTolerance <= 0 {
		return fmt.Errorf("%w: lock tolerances must be strictly positive", ErrInvalidParams)
	}
	if p.MinVoltage < 0 || p.MinVoltageDelta < 0 || p.DitherAmplitude < 0 || p.StabilityWindow < 0 {
		return fmt.Errorf("%w: voltages and durations must not be negative", ErrInvalidParams)
	}
	if p.IrradianceDeadband < 0 || p.TemperatureDeadband < 0 {
		return fmt.Errorf("%w: deadbands must not be negative", ErrInvalidParams)
	}
	return nil
}
