package device

import (
	"github.com/Agrid-Dev/pvmocktat/internal/pv"
	"github.com/Agrid-Dev/pvmocktat/internal/recorder"
	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
)

// Device is one simulated PV installation as exposed by the controllers.
type Device struct {
	ID       string
	Sim      *simulator.Simulator
	Recorder *recorder.Recorder
	Catalog  *pv.Catalog
}

// New bundles the parts and routes simulator events into the recorder.
func New(id string, sim *simulator.Simulator, rec *recorder.Recorder, catalog *pv.Catalog) *Device {
	if rec != nil {
		sim.SetEventSink(rec)
	}
	return &Device{ID: id, Sim: sim, Recorder: rec, Catalog: catalog}
}
