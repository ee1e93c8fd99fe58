package environment

import (
	"context"
	"math"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/Agrid-Dev/pvmocktat/internal/pv"
)

type DayCycleParams struct {
	DayLength        time.Duration // one sunrise to the next
	DaylightFraction float64       // share of the day the sun is up, (0,1]
	NightTemperature float64       // °C at sunrise and through the night
	NoonTemperature  float64       // °C at solar noon
}

func (p *DayCycleParams) Validate() error {
	if p.DayLength <= 0 || p.DaylightFraction <= 0 || p.DaylightFraction > 1 {
		return ErrInvalidDayCycle
	}
	if err := pv.ValidateTemperature(p.NightTemperature); err != nil {
		return err
	}
	return pv.ValidateTemperature(p.NoonTemperature)
}

// EnvironmentSetter receives the computed environment.
type EnvironmentSetter interface {
	SetEnvironment(env pv.Environment) error
}

// DayCycle drives irradiance and temperature through a compressed day.
type DayCycle struct {
	params DayCycleParams
	clock  clock.WithTicker
	start  time.Time
}

func NewDayCycle(params DayCycleParams, c clock.WithTicker) (*DayCycle, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if c == nil {
		c = clock.RealClock{}
	}
	return &DayCycle{params: params, clock: c, start: c.Now()}, nil
}

// Position returns the sun position in [0,100] after elapsed, or -1 at night.
func (d *DayCycle) Position(elapsed time.Duration) float64 {
	phase := math.Mod(elapsed.Seconds(), d.params.DayLength.Seconds()) / d.params.DayLength.Seconds()
	if phase > d.params.DaylightFraction {
		return -1
	}
	return phase / d.params.DaylightFraction * MaxSunPosition
}

// At returns the environment after elapsed since the cycle started at sunrise.
func (d *DayCycle) At(elapsed time.Duration) pv.Environment {
	pos := d.Position(elapsed)
	if pos < 0 {
		return pv.Environment{Irradiance: 0, Temperature: d.params.NightTemperature}
	}
	g := sunIrradiance(pos)
	// ambient temperature follows the sun with the same shape
	t := d.params.NightTemperature + (d.params.NoonTemperature-d.params.NightTemperature)*g/peakIrradiance
	return pv.Environment{Irradiance: g, Temperature: t}
}

func (d *DayCycle) Run(ctx context.Context, target EnvironmentSetter, interval time.Duration) error {
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			env := d.At(d.clock.Since(d.start))
			if err := target.SetEnvironment(env); err != nil {
				klog.ErrorS(err, "Day cycle environment rejected", "irradiance", env.Irradiance, "temperature", env.Temperature)
			}
		}
	}
}
