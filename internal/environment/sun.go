package environment

import (
	"fmt"
	"math"
)

const (
	MinSunPosition = 0.0
	MaxSunPosition = 100.0

	peakIrradiance = 1000.0
)

// SunIrradiance maps a sun position from sunrise (0) to sunset (100) onto physical
// irradiance, max(0, sin(angle) * 1000) with angle in [0, π].
func SunIrradiance(position float64) (float64, error) {
	if math.IsNaN(position) || position < MinSunPosition || position > MaxSunPosition {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidSunPosition, position)
	}
	return sunIrradiance(position), nil
}

func sunIrradiance(position float64) float64 {
	angle := position / MaxSunPosition * math.Pi
	return math.Max(0, math.Sin(angle)*peakIrradiance)
}
