package recorder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/Agrid-Dev/pvmocktat/internal/pv"
	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
)

const (
	EventSessionStart = "SESSION START"
	EventInitialState = "INITIAL STATE"
	EventSessionEnd   = "SESSION END"
)

// SnapshotSource is where entries read their metrics from.
type SnapshotSource interface {
	Latest() simulator.TickResult
	LatestCurve() *pv.CurveSnapshot
}

// Reporter consumes a finished session.
type Reporter interface {
	Report(ctx context.Context, s Session) error
}

type ReporterFunc func(ctx context.Context, s Session) error

func (f ReporterFunc) Report(ctx context.Context, s Session) error { return f(ctx, s) }

// Metrics are rounded the way they are displayed: one decimal for power, none for irradiance.
type Metrics struct {
	InputPower  float64 `json:"input_power"`
	OutputPower float64 `json:"output_power"`
	Irradiance  float64 `json:"irradiance"`
}

func (m Metrics) String() string {
	return fmt.Sprintf("INPUT: %.1f W   |   OUTPUT: %.1f W   |   IRR: %.0f W/m²", m.InputPower, m.OutputPower, m.Irradiance)
}

type Entry struct {
	Offset      time.Duration     `json:"offset"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Metrics     Metrics           `json:"metrics"`
	Curve       *pv.CurveSnapshot `json:"curve,omitempty"`
}

// TimeLabel formats the offset as whole elapsed seconds, e.g. "T+12s".
func (e Entry) TimeLabel() string {
	return fmt.Sprintf("T+%ds", int64(e.Offset/time.Second))
}

type Session struct {
	ID      uuid.UUID `json:"id"`
	Started time.Time `json:"started"`
	Ended   time.Time `json:"ended"`
	Entries []Entry   `json:"entries"`
}

type Option func(*Recorder)

func WithClock(c clock.PassiveClock) Option {
	return func(r *Recorder) { r.clock = c }
}

func WithReporters(reporters ...Reporter) Option {
	return func(r *Recorder) { r.reporters = append(r.reporters, reporters...) }
}

// Recorder is an append-only session log. Safe for concurrent use.
type Recorder struct {
	mu        sync.RWMutex
	clock     clock.PassiveClock
	source    SnapshotSource
	reporters []Reporter

	active  bool
	current Session
	last    *Session
}

func New(source SnapshotSource, opts ...Option) *Recorder {
	r := &Recorder{clock: clock.RealClock{}, source: source}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start clears the log and begins a new session.
func (r *Recorder) Start() (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return uuid.Nil, ErrAlreadyRecording
	}
	r.active = true
	r.current = Session{ID: uuid.New(), Started: r.clock.Now()}
	r.appendLocked(EventSessionStart, "Recording started.")
	r.appendLocked(EventInitialState, "Baseline metrics captured.")
	klog.InfoS("Recording started", "session", r.current.ID)
	return r.current.ID, nil
}

// Stop closes the session and hands it to every reporter. Reporter errors are joined;
// the session is finished regardless.
func (r *Recorder) Stop(ctx context.Context) (Session, error) {
	r.mu.Lock()
	if !r.active {
		r.mu.Unlock()
		return Session{}, ErrNotRecording
	}
	r.appendLocked(EventSessionEnd, "Recording stopped.")
	r.active = false
	r.current.Ended = r.clock.Now()
	s := r.current
	s.Entries = slices.Clone(s.Entries)
	r.last = &s
	r.current = Session{}
	reporters := r.reporters
	r.mu.Unlock()

	klog.InfoS("Recording stopped", "session", s.ID, "entries", len(s.Entries))
	var errs []error
	for _, rep := range reporters {
		if err := rep.Report(ctx, s); err != nil {
			klog.ErrorS(err, "Session report failed", "session", s.ID)
			errs = append(errs, err)
		}
	}
	return s, errors.Join(errs...)
}

// Record appends an entry and reports whether it was recorded.
func (r *Recorder) Record(eventType, description string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return false
	}
	r.appendLocked(eventType, description)
	return true
}

// LogEvent satisfies simulator.EventSink.
func (r *Recorder) LogEvent(eventType, description string) {
	r.Record(eventType, description)
}

func (r *Recorder) appendLocked(eventType, description string) {
	latest := r.source.Latest()
	e := Entry{
		Offset:      r.clock.Since(r.current.Started),
		Type:        eventType,
		Description: description,
		Metrics: Metrics{
			InputPower:  roundTo(latest.OperatingPower, 1),
			OutputPower: roundTo(latest.LoadPower, 1),
			Irradiance:  roundTo(latest.Environment.Irradiance, 0),
		},
		Curve: r.source.LatestCurve(),
	}
	r.current.Entries = append(r.current.Entries, e)
}

func (r *Recorder) Active() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Entries returns the entries of the active session, or of the last finished one.
func (r *Recorder) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active || r.last == nil {
		return slices.Clone(r.current.Entries)
	}
	return slices.Clone(r.last.Entries)
}

func (r *Recorder) LastSession() (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return Session{}, ErrNoSession
	}
	return *r.last, nil
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
