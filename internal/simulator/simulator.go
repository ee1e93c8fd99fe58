package simulator

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/Agrid-Dev/pvmocktat/internal/converter"
	"github.com/Agrid-Dev/pvmocktat/internal/mppt"
	"github.com/Agrid-Dev/pvmocktat/internal/pv"
)

type Option func(*Simulator)

func WithClock(c clock.WithTicker) Option {
	return func(s *Simulator) { s.clock = c }
}

func WithTickSink(sink TickSink) Option {
	return func(s *Simulator) { s.sinks = append(s.sinks, sink) }
}

func WithEventSink(sink EventSink) Option {
	return func(s *Simulator) { s.events = sink }
}

// WithControllerOptions forwards options to the MPPT controller.
func WithControllerOptions(opts ...mppt.Option) Option {
	return func(s *Simulator) { s.ctrlOpts = append(s.ctrlOpts, opts...) }
}

type curveKey struct {
	env       pv.Environment
	panel     pv.PanelSpec
	rows      int
	topology  converter.Topology
	algorithm mppt.Algorithm
}

// Simulator owns one array, its converter and its MPPT controller.
type Simulator struct {
	mu       sync.RWMutex
	clock    clock.WithTicker
	cfg      Config
	env      pv.Environment
	ctrl     *mppt.Controller
	ctrlOpts []mppt.Option
	latest   TickResult
	ticks    uint64

	curve    *pv.CurveSnapshot
	curveKey *curveKey

	sinks   []TickSink
	events  EventSink
	pending []event
}

func New(cfg Config, env pv.Environment, params mppt.Params, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{clock: clock.RealClock{}, cfg: cfg, env: env}
	for _, opt := range opts {
		opt(s)
	}
	ctrl, err := mppt.New(params, append([]mppt.Option{mppt.WithClock(s.clock)}, s.ctrlOpts...)...)
	if err != nil {
		return nil, err
	}
	s.ctrl = ctrl
	s.latest = TickResult{Environment: env, Algorithm: cfg.Algorithm, Topology: cfg.Topology}
	s.refreshCurveLocked()
	return s, nil
}

func (s *Simulator) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Config: s.cfg, Environment: s.env, Latest: s.latest, Ticks: s.ticks}
}

// Latest returns the last committed tick, or a zero result carrying the current
// configuration before the first tick.
func (s *Simulator) Latest() TickResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// LatestCurve returns the single-panel curve for the current environment, nil at night.
func (s *Simulator) LatestCurve() *pv.CurveSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.curve
}

func (s *Simulator) ControllerState() mppt.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ctrl.State()
}

func (s *Simulator) AddTickSink(sink TickSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, sink)
}

func (s *Simulator) SetEventSink(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = sink
}

// QueueEvent schedules an event to be logged right after the next tick commits,
// so the event sees metrics computed from the state that caused it.
func (s *Simulator) QueueEvent(eventType, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queueLocked(eventType, description)
}

func (s *Simulator) queueLocked(eventType, description string) {
	s.pending = append(s.pending, event{kind: eventType, description: description})
}

// SetEnvironment replaces irradiance and temperature atomically without logging.
func (s *Simulator) SetEnvironment(env pv.Environment) error {
	if err := env.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env = env
	return nil
}

func (s *Simulator) SetIrradiance(g float64) error {
	if err := pv.ValidateIrradiance(g); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env.Irradiance = g
	s.queueLocked(EventManualAdjustment, fmt.Sprintf("Irradiance slider moved to %.0f W/m²", g))
	return nil
}

func (s *Simulator) SetTemperature(t float64) error {
	if err := pv.ValidateTemperature(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.env.Temperature = t
	s.queueLocked(EventManualAdjustment, fmt.Sprintf("Temperature slider moved to %g°C", t))
	return nil
}

// SetAlgorithm switches tracking strategy. The controller invalidates its own history
// on the next tick.
func (s *Simulator) SetAlgorithm(a mppt.Algorithm) error {
	if !a.Valid() {
		return mppt.ErrInvalidAlgorithm
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Algorithm == a {
		return nil
	}
	s.cfg.Algorithm = a
	s.queueLocked(EventAlgoSwitch, "Control Strategy switched to: "+a.Label())
	return nil
}

func (s *Simulator) SetTopology(t converter.Topology) error {
	if !t.Valid() {
		return converter.ErrInvalidTopology
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.Topology == t {
		return nil
	}
	s.cfg.Topology = t
	s.queueLocked(EventManualAdjustment, "Converter topology set to "+strings.ToUpper(t.String()))
	return nil
}

// SetArray clamps rows and cols into range, reporting whether clamping happened,
// and restarts tracking.
func (s *Simulator) SetArray(rows, cols int) (pv.ArrayConfig, bool) {
	arr, clamped := pv.ClampArray(rows, cols)
	s.mu.Lock()
	defer s.mu.Unlock()
	if clamped {
		klog.InfoS("Array size clamped", "requestedRows", rows, "requestedCols", cols, "array", arr)
		s.queueLocked(EventConfigWarning, fmt.Sprintf("Array %dx%d out of range, clamped to %s", rows, cols, arr))
	}
	s.cfg.Array = arr
	s.ctrl.Reset()
	s.queueLocked(EventConfigUpdate, s.cfg.describe())
	return arr, clamped
}

func (s *Simulator) SetPanel(p pv.PanelSpec) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Panel = p
	s.ctrl.Reset()
	s.queueLocked(EventPanelChanged, "PV Module updated to: "+p.Name)
	return nil
}

// SetConfig replaces the whole configuration and restarts tracking.
func (s *Simulator) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.ctrl.Reset()
	s.queueLocked(EventConfigUpdate, cfg.describe())
	return nil
}

// Tick advances the simulation by one step and publishes the result.
func (s *Simulator) Tick() TickResult {
	s.mu.Lock()
	cfg, env := s.cfg, s.env
	curve := pv.ArrayCurve(cfg.Panel, cfg.Array, env)
	step := s.ctrl.Step(cfg.Algorithm, env, curve)
	out := converter.Evaluate(cfg.Topology, cfg.Array.Rows, env.Irradiance, step.Voltage, step.Power)

	s.ticks++
	res := TickResult{
		Seq:              s.ticks,
		Time:             s.clock.Now(),
		Environment:      env,
		Algorithm:        cfg.Algorithm,
		Topology:         cfg.Topology,
		OperatingVoltage: step.Voltage,
		OperatingCurrent: step.Current,
		OperatingPower:   step.Power,
		TrialVoltage:     step.Next,
		DutyCycle:        out.Duty,
		LoadVoltage:      out.LoadVoltage,
		LoadCurrent:      out.LoadCurrent,
		LoadPower:        out.LoadPower,
		InputCurrent:     out.InputCurrent,
		Status:           step.Status,
		ConverterStatus:  out.Status,
		Locked:           step.Locked,
		LockAcquired:     step.LockAcquired,
		Idle:             step.Idle,
	}
	s.latest = res
	s.refreshCurveLocked()

	pending := s.pending
	s.pending = nil
	sinks := s.sinks
	events := s.events
	s.mu.Unlock()

	if step.Invalidated {
		klog.V(2).InfoS("MPPT tracking invalidated", "irradiance", env.Irradiance, "temperature", env.Temperature, "algorithm", cfg.Algorithm)
	}
	if step.LockAcquired {
		klog.InfoS("MPPT locked", "algorithm", cfg.Algorithm, "voltage", round(step.Voltage, 2), "power", round(step.Power, 1))
		pending = append(pending, event{
			kind:        EventMPPTLocked,
			description: fmt.Sprintf("%s locked at %.1f V / %.1f W", cfg.Algorithm.Label(), step.Voltage, step.Power),
		})
	}

	for _, sink := range sinks {
		sink.OnTick(res)
	}
	if events != nil {
		for _, e := range pending {
			events.LogEvent(e.kind, e.description)
		}
	}
	return res
}

// refreshCurveLocked recomputes the cached panel curve only on meaningful changes.
func (s *Simulator) refreshCurveLocked() {
	key := curveKey{env: s.env, panel: s.cfg.Panel, rows: s.cfg.Array.Rows, topology: s.cfg.Topology, algorithm: s.cfg.Algorithm}
	if k := s.curveKey; k != nil &&
		math.Abs(k.env.Irradiance-key.env.Irradiance) <= 1 &&
		math.Abs(k.env.Temperature-key.env.Temperature) <= 0.5 &&
		k.panel == key.panel && k.rows == key.rows && k.topology == key.topology && k.algorithm == key.algorithm {
		return
	}
	s.curveKey = &key
	s.curve = pv.PanelSnapshot(s.cfg.Panel, s.env)
}

func (s *Simulator) Run(ctx context.Context, interval time.Duration) error {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			s.Tick()
		}
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
