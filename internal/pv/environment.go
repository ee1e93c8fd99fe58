package pv

import (
	"fmt"
	"math"
)

const (
	// IdleIrradiance is the threshold below which the array reports the night state.
	IdleIrradiance = 10.0
	STCIrradiance  = 1000.0
	STCTemperature = 25.0

	MaxIrradiance  = 1500.0
	MinTemperature = -50.0
	MaxTemperature = 100.0
)

// Environment is sampled once per tick.
type Environment struct {
	Irradiance  float64 `json:"irradiance"`  // W/m²
	Temperature float64 `json:"temperature"` // °C
}

func (e Environment) Idle() bool {
	return e.Irradiance < IdleIrradiance
}

func ValidateIrradiance(g float64) error {
	if math.IsNaN(g) || math.IsInf(g, 0) || g < 0 || g > MaxIrradiance {
		return fmt.Errorf("%w: %v W/m² (want 0..%v)", ErrInvalidIrradiance, g, MaxIrradiance)
	}
	return nil
}

func ValidateTemperature(t float64) error {
	if math.IsNaN(t) || math.IsInf(t, 0) || t < MinTemperature || t > MaxTemperature {
		return fmt.Errorf("%w: %v °C (want %v..%v)", ErrInvalidTemperature, t, MinTemperature, MaxTemperature)
	}
	return nil
}

func (e Environment) Validate() error {
	if err := ValidateIrradiance(e.Irradiance); err != nil {
		return err
	}
	return ValidateTemperature(e.Temperature)
}
