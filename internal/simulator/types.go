package simulator

import (
	"fmt"
	"time"

	"github.com/Agrid-Dev/pvmocktat/internal/converter"
	"github.com/Agrid-Dev/pvmocktat/internal/mppt"
	"github.com/Agrid-Dev/pvmocktat/internal/pv"
)

// Event types emitted by the simulator.
const (
	EventConfigUpdate     = "CONFIG UPDATE"
	EventConfigWarning    = "CONFIG WARNING"
	EventAlgoSwitch       = "ALGO SWITCH"
	EventPanelChanged     = "PANEL CHANGED"
	EventManualAdjustment = "MANUAL ADJUSTMENT"
	EventWeatherUpdate    = "WEATHER UPDATE"
	EventMPPTLocked       = "MPPT LOCKED"
)

type Config struct {
	Array     pv.ArrayConfig     `json:"array"`
	Panel     pv.PanelSpec       `json:"panel"`
	Topology  converter.Topology `json:"topology"`
	Algorithm mppt.Algorithm     `json:"algorithm"`
}

func (c Config) Validate() error {
	if err := c.Array.Validate(); err != nil {
		return err
	}
	if err := c.Panel.Validate(); err != nil {
		return err
	}
	if !c.Topology.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, converter.ErrInvalidTopology)
	}
	if !c.Algorithm.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, mppt.ErrInvalidAlgorithm)
	}
	return nil
}

func (c Config) describe() string {
	return fmt.Sprintf("Setup: %s, Panel: %s, Algo: %s", c.Array, c.Panel.Name, c.Algorithm)
}

// TickResult is the immutable outcome of one tick.
type TickResult struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`

	Environment pv.Environment     `json:"environment"`
	Algorithm   mppt.Algorithm     `json:"algorithm"`
	Topology    converter.Topology `json:"topology"`

	OperatingVoltage float64 `json:"operating_voltage"`
	OperatingCurrent float64 `json:"operating_current"`
	OperatingPower   float64 `json:"operating_power"`
	TrialVoltage     float64 `json:"trial_voltage"`

	DutyCycle    float64 `json:"duty_cycle"`
	LoadVoltage  float64 `json:"load_voltage"`
	LoadCurrent  float64 `json:"load_current"`
	LoadPower    float64 `json:"load_power"`
	InputCurrent float64 `json:"input_current"`

	Status          string `json:"status"`
	ConverterStatus string `json:"converter_status"`
	Locked          bool   `json:"locked"`
	LockAcquired    bool   `json:"lock_acquired"`
	Idle            bool   `json:"idle"`
}

// Efficiency is LoadPower / OperatingPower, 0 without input power.
func (r TickResult) Efficiency() float64 {
	if r.OperatingPower <= 0 {
		return 0
	}
	return r.LoadPower / r.OperatingPower
}

type Snapshot struct {
	Config      Config         `json:"config"`
	Environment pv.Environment `json:"environment"`
	Latest      TickResult     `json:"latest"`
	Ticks       uint64         `json:"ticks"`
}

// TickSink consumes every committed tick. Implementations must not block.
type TickSink interface {
	OnTick(TickResult)
}

type TickSinkFunc func(TickResult)

func (f TickSinkFunc) OnTick(r TickResult) { f(r) }

// EventSink receives named events, typically a session recorder.
type EventSink interface {
	LogEvent(eventType, description string)
}

type event struct {
	kind, description string
}
