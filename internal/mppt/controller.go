package mppt

import (
	"math"
	"math/rand/v2"
	"time"

	"k8s.io/utils/clock"

	"github.com/Agrid-Dev/pvmocktat/internal/pv"
)

const (
	StatusIdle = "IDLE (NIGHT)"

	StatusPOStarting     = "P&O (STARTING)"
	StatusPOClimbingUp   = "P&O (CLIMBING ↑)"
	StatusPOClimbingDown = "P&O (CLIMBING ↓)"
	StatusPOLocked       = "P&O (LOCKED/OSC)"

	StatusICTuning    = "INC. COND (TUNING)"
	StatusICVerifying = "INC. COND (VERIFYING)"
	StatusICLocked    = "INC. COND (LOCKED)"
)

// Result is the outcome of one controller step. Voltage, Current and Power are the
// operating point evaluated at the start of the step; Next is the trial voltage the
// controller will evaluate on the following step.
type Result struct {
	Voltage      float64
	Current      float64
	Power        float64
	Next         float64
	Status       string
	Idle         bool
	Locked       bool
	LockAcquired bool // false -> true edge on this step
	Invalidated  bool // environment or algorithm change cleared tracking on this step
}

// State is a read-only view of the tracking state.
type State struct {
	Algorithm   Algorithm `json:"algorithm"`
	Trial       float64   `json:"trial"`
	Direction   int       `json:"direction"`
	HistoryLen  int       `json:"history_len"`
	Locked      bool      `json:"locked"`
	StableSince time.Time `json:"stable_since"`
	Primed      bool      `json:"primed"`
}

type Option func(*Controller)

// WithClock sets the time source used by the IncCond stability timer.
func WithClock(c clock.PassiveClock) Option {
	return func(ctrl *Controller) { ctrl.clock = c }
}

// WithDither replaces the random verification dither. up reports whether the next
// dither step goes up.
func WithDither(up func() bool) Option {
	return func(ctrl *Controller) { ctrl.ditherUp = up }
}

// Controller tracks the maximum power point of one array. Not safe for concurrent use.
type Controller struct {
	params   Params
	clock    clock.PassiveClock
	ditherUp func() bool

	primed        bool
	trial         float64
	lastVoltage   float64
	lastCurrent   float64
	lastPower     float64
	direction     float64
	history       *window
	locked        bool
	stableSince   time.Time
	lastEnv       pv.Environment
	lastAlgorithm Algorithm
}

func New(params Params, opts ...Option) (*Controller, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		params:   params,
		clock:    clock.RealClock{},
		ditherUp: func() bool { return rand.IntN(2) == 1 },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.Reset()
	return c, nil
}

func (c *Controller) Params() Params {
	return c.params
}

// Reset forgets all tracking state. The next non-idle step reseeds the trial voltage.
func (c *Controller) Reset() {
	c.primed = false
	c.trial = 0
	c.lastVoltage, c.lastCurrent, c.lastPower = 0, 0, 0
	c.direction = 1
	c.history = newWindow(c.params.HistorySize)
	c.locked = false
	c.stableSince = time.Time{}
	c.lastEnv = pv.Environment{}
	c.lastAlgorithm = AlgorithmUnknown
}

func (c *Controller) State() State {
	return State{
		Algorithm:   c.lastAlgorithm,
		Trial:       c.trial,
		Direction:   int(c.direction),
		HistoryLen:  c.history.len(),
		Locked:      c.locked,
		StableSince: c.stableSince,
		Primed:      c.primed,
	}
}

// Step evaluates curve at the current trial voltage and moves the trial voltage
// toward the maximum power point using algo. curve must be the array curve for env.
func (c *Controller) Step(algo Algorithm, env pv.Environment, curve pv.Curve) Result {
	if env.Idle() || curve.Voc <= 0 {
		return Result{Status: StatusIdle, Idle: true}
	}

	now := c.clock.Now()
	if !c.primed {
		c.primed = true
		c.lastEnv = env
		c.lastAlgorithm = algo
		c.stableSince = now
	}
	if c.trial == 0 {
		c.trial = curve.Voc * c.params.SeedFraction
	}

	op := curve.At(c.trial)
	res := Result{Voltage: op.Voltage, Current: op.Current, Power: op.Power}

	wasLocked := c.locked
	if c.disturbed(algo, env) {
		c.invalidate(now, algo, env)
		res.Invalidated = true
	}

	switch algo {
	case IncrementalConductance:
		res.Status = c.incrementalConductance(now, op, curve.Voc)
	default:
		res.Status = c.perturbObserve(op, curve.Voc)
	}

	c.trial = c.clampTrial(c.trial, curve.Voc)
	c.lastVoltage, c.lastCurrent, c.lastPower = op.Voltage, op.Current, op.Power

	res.Next = c.trial
	res.Locked = c.locked
	res.LockAcquired = c.locked && !wasLocked
	return res
}

func (c *Controller) disturbed(algo Algorithm, env pv.Environment) bool {
	return math.Abs(env.Irradiance-c.lastEnv.Irradiance) > c.params.IrradianceDeadband ||
		math.Abs(env.Temperature-c.lastEnv.Temperature) > c.params.TemperatureDeadband ||
		algo != c.lastAlgorithm
}

func (c *Controller) invalidate(now time.Time, algo Algorithm, env pv.Environment) {
	c.locked = false
	c.stableSince = now
	c.history.reset()
	c.lastEnv = env
	c.lastAlgorithm = algo
}

func (c *Controller) perturbObserve(op pv.Point, voc float64) string {
	step := c.params.PerturbStepFraction * voc
	if op.Power-c.lastPower <= 0 {
		c.direction = -c.direction
	}
	c.trial = c.clampTrial(c.trial+step*c.direction, voc)
	c.history.push(c.trial)

	if !c.history.full() {
		c.locked = false
		return StatusPOStarting
	}
	if c.history.spread() < c.params.LockSpreadFraction*voc {
		c.locked = true
		return StatusPOLocked
	}
	c.locked = false
	if c.direction > 0 {
		return StatusPOClimbingUp
	}
	return StatusPOClimbingDown
}

func (c *Controller) incrementalConductance(now time.Time, op pv.Point, voc float64) string {
	step := c.params.IncCondStepFraction * voc
	dV := op.Voltage - c.lastVoltage
	dI := op.Current - c.lastCurrent

	atPeak := true
	if math.Abs(dV) > c.params.MinVoltageDelta && op.Voltage > 0 {
		instantaneous := op.Current / op.Voltage
		incremental := dI / dV
		if math.Abs(incremental+instantaneous) >= c.params.PeakTolerance {
			atPeak = false
			if incremental > -instantaneous {
				c.trial += step
			} else {
				c.trial -= step
			}
			c.stableSince = now
		}
	}

	if !atPeak {
		c.locked = false
		return StatusICTuning
	}
	if now.Sub(c.stableSince) < c.params.StabilityWindow {
		if c.ditherUp() {
			c.trial += c.params.DitherAmplitude
		} else {
			c.trial -= c.params.DitherAmplitude
		}
		c.locked = false
		return StatusICVerifying
	}
	c.locked = true
	return StatusICLocked
}

func (c *Controller) clampTrial(v, voc float64) float64 {
	return min(max(v, c.params.MinVoltage), voc)
}
