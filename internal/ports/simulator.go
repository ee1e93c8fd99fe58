package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/Agrid-Dev/pvmocktat/internal/archive"
	"github.com/Agrid-Dev/pvmocktat/internal/converter"
	"github.com/Agrid-Dev/pvmocktat/internal/mppt"
	"github.com/Agrid-Dev/pvmocktat/internal/pv"
	"github.com/Agrid-Dev/pvmocktat/internal/recorder"
	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
	"github.com/Agrid-Dev/pvmocktat/internal/weather"
)

// SimulatorService is the control-plane port used by controllers (HTTP/MQTT/etc).
type SimulatorService interface {
	Get() simulator.Snapshot
	SetIrradiance(float64) error
	SetTemperature(float64) error
	SetAlgorithm(mppt.Algorithm) error
	SetTopology(converter.Topology) error
	SetArray(rows, cols int) (pv.ArrayConfig, bool)
	SetPanel(pv.PanelSpec) error
	SetConfig(simulator.Config) error
	ControllerState() mppt.State
	LatestCurve() *pv.CurveSnapshot
}

// RecorderService controls session recording.
type RecorderService interface {
	Start() (uuid.UUID, error)
	Stop(ctx context.Context) (recorder.Session, error)
	Active() bool
	Entries() []recorder.Entry
	LastSession() (recorder.Session, error)
}

// PanelCatalog resolves panels by name.
type PanelCatalog interface {
	List() []pv.PanelSpec
	Lookup(name string) (pv.PanelSpec, error)
	Add(pv.PanelSpec) error
}

// SessionArchive reads back finished sessions.
type SessionArchive interface {
	Sessions(ctx context.Context, limit int) ([]archive.SessionInfo, error)
	Session(ctx context.Context, id uuid.UUID) (recorder.Session, error)
}

// WeatherLocator moves live weather to a named place.
type WeatherLocator interface {
	Location() (lat, lon float64)
	Relocate(ctx context.Context, query string) (weather.Reading, error)
}
