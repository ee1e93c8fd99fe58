package testutil

import (
	"github.com/Agrid-Dev/pvmocktat/internal/converter"
	"github.com/Agrid-Dev/pvmocktat/internal/mppt"
	"github.com/Agrid-Dev/pvmocktat/internal/pv"
	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
)

// FakeSimulatorService is a reusable fake implementing ports.SimulatorService.
// Put ONLY what multiple test packages need here.
type FakeSimulatorService struct {
	S simulator.Snapshot

	SetIrradianceCalled bool
	SetIrradianceArg    float64
	SetIrradianceErr    error

	SetTemperatureCalled bool
	SetTemperatureArg    float64
	SetTemperatureErr    error

	SetAlgorithmCalled bool
	SetAlgorithmArg    mppt.Algorithm
	SetAlgorithmErr    error

	SetTopologyCalled bool
	SetTopologyArg    converter.Topology
	SetTopologyErr    error

	SetArrayCalled bool
	SetArrayRows   int
	SetArrayCols   int

	SetPanelCalled bool
	SetPanelArg    pv.PanelSpec
	SetPanelErr    error

	SetConfigCalled bool
	SetConfigErr    error

	State mppt.State
	Curve *pv.CurveSnapshot
}

func NewFakeSimulatorService() *FakeSimulatorService {
	return &FakeSimulatorService{
		S: simulator.Snapshot{
			Config: simulator.Config{
				Array:     pv.ArrayConfig{Rows: 2, Cols: 2},
				Panel:     pv.PanelSpec{Name: pv.DefaultPanelName, Pmax: 300, Voc: 45, Isc: 9, Vmp: 37, TempCoeffV: -0.0035, TempCoeffI: 0.0005},
				Topology:  converter.TopologyBuck,
				Algorithm: mppt.PerturbObserve,
			},
			Environment: pv.Environment{Irradiance: 1000, Temperature: 25},
			Latest: simulator.TickResult{
				Seq:              42,
				Environment:      pv.Environment{Irradiance: 1000, Temperature: 25},
				Algorithm:        mppt.PerturbObserve,
				Topology:         converter.TopologyBuck,
				OperatingVoltage: 74.88,
				OperatingCurrent: 16.86,
				OperatingPower:   1262.43,
				TrialVoltage:     75.96,
				DutyCycle:        0.668,
				LoadVoltage:      50,
				LoadCurrent:      24.24,
				LoadPower:        1211.93,
				InputCurrent:     16.86,
				Status:           mppt.StatusPOLocked,
				ConverterStatus:  "BUCK (REGULATING)",
				Locked:           true,
			},
			Ticks: 42,
		},
	}
}

func (f *FakeSimulatorService) Get() simulator.Snapshot { return f.S }

func (f *FakeSimulatorService) SetIrradiance(v float64) error {
	f.SetIrradianceCalled = true
	f.SetIrradianceArg = v
	if f.SetIrradianceErr != nil {
		return f.SetIrradianceErr
	}
	f.S.Environment.Irradiance = v
	return nil
}

func (f *FakeSimulatorService) SetTemperature(v float64) error {
	f.SetTemperatureCalled = true
	f.SetTemperatureArg = v
	if f.SetTemperatureErr != nil {
		return f.SetTemperatureErr
	}
	f.S.Environment.Temperature = v
	return nil
}

func (f *FakeSimulatorService) SetAlgorithm(a mppt.Algorithm) error {
	f.SetAlgorithmCalled = true
	f.SetAlgorithmArg = a
	if f.SetAlgorithmErr != nil {
		return f.SetAlgorithmErr
	}
	f.S.Config.Algorithm = a
	return nil
}

func (f *FakeSimulatorService) SetTopology(t converter.Topology) error {
	f.SetTopologyCalled = true
	f.SetTopologyArg = t
	if f.SetTopologyErr != nil {
		return f.SetTopologyErr
	}
	f.S.Config.Topology = t
	return nil
}

func (f *FakeSimulatorService) SetArray(rows, cols int) (pv.ArrayConfig, bool) {
	f.SetArrayCalled = true
	f.SetArrayRows = rows
	f.SetArrayCols = cols
	arr, clamped := pv.ClampArray(rows, cols)
	f.S.Config.Array = arr
	return arr, clamped
}

func (f *FakeSimulatorService) SetPanel(p pv.PanelSpec) error {
	f.SetPanelCalled = true
	f.SetPanelArg = p
	if f.SetPanelErr != nil {
		return f.SetPanelErr
	}
	f.S.Config.Panel = p
	return nil
}

func (f *FakeSimulatorService) SetConfig(cfg simulator.Config) error {
	f.SetConfigCalled = true
	if f.SetConfigErr != nil {
		return f.SetConfigErr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.S.Config = cfg
	return nil
}

func (f *FakeSimulatorService) ControllerState() mppt.State { return f.State }

func (f *FakeSimulatorService) LatestCurve() *pv.CurveSnapshot { return f.Curve }
