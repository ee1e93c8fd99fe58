package device

import (
	"testing"

	"github.com/Agrid-Dev/pvmocktat/internal/converter"
	"github.com/Agrid-Dev/pvmocktat/internal/mppt"
	"github.com/Agrid-Dev/pvmocktat/internal/pv"
	"github.com/Agrid-Dev/pvmocktat/internal/recorder"
	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
)

func TestNewDevice(t *testing.T) {
	catalog := pv.DefaultCatalog()
	panel, err := catalog.Lookup(pv.DefaultPanelName)
	if err != nil {
		t.Fatal(err)
	}
	sim, err := simulator.New(simulator.Config{
		Array:     pv.ArrayConfig{Rows: 2, Cols: 2},
		Panel:     panel,
		Topology:  converter.TopologyBuck,
		Algorithm: mppt.PerturbObserve,
	}, pv.Environment{Irradiance: 1000, Temperature: 25}, mppt.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	rec := recorder.New(sim)

	id := "test-id"
	d := New(id, sim, rec, catalog)
	if d.ID != id {
		t.Errorf("Expected device ID to be %s, got %s", id, d.ID)
	}

	if _, err := rec.Start(); err != nil {
		t.Fatal(err)
	}
	if err := sim.SetIrradiance(800); err != nil {
		t.Fatal(err)
	}
	sim.Tick()
	entries := rec.Entries()
	if len(entries) != 3 || entries[2].Type != simulator.EventManualAdjustment {
		t.Fatalf("simulator events not routed to recorder: %+v", entries)
	}
}
