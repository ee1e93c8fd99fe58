package modbusctrl

import (
	"encoding/binary"
	"math"
	"net"
	"testing"
	"time"

	"github.com/goburrow/modbus"

	"github.com/Agrid-Dev/pvmocktat/internal/converter"
	"github.com/Agrid-Dev/pvmocktat/internal/mppt"
	"github.com/Agrid-Dev/pvmocktat/internal/pv"
	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
)

func findFreeTCPAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	a := l.Addr().String()
	_ = l.Close()
	return a
}

const startupDelay = 50 * time.Millisecond

func newTrackingSimulator(t *testing.T) *simulator.Simulator {
	t.Helper()
	panel, err := pv.DefaultCatalog().Lookup(pv.DefaultPanelName)
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
	for range 100 {
		sim.Tick()
	}
	return sim
}

func startController(t *testing.T, sim *simulator.Simulator) modbus.Client {
	t.Helper()
	addr := findFreeTCPAddr(t)

	ctrl, err := New(sim, Config{
		DeviceID: "dev",
		Addr:     addr,
		UnitID:   1,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := t.Context()
	go func() {
		_ = ctrl.Run(ctx)
	}()

	time.Sleep(startupDelay)

	handler := modbus.NewTCPClientHandler(addr)
	handler.SlaveId = 1
	handler.Timeout = time.Second
	if err := handler.Connect(); err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = handler.Close() })
	return modbus.NewClient(handler)
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Fatal("expected error when UnitID missing")
	}
	c, err := New(nil, Config{UnitID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if c.cfg.Addr != "127.0.0.1:1502" {
		t.Fatalf("expected default Addr, got %q", c.cfg.Addr)
	}
}

func TestModbusControllerHandlers(t *testing.T) {
	sim := newTrackingSimulator(t)
	client := startController(t, sim)
	latest := sim.Latest()

	// Coil 0 mirrors the lock flag.
	coils, err := client.ReadCoils(CoilLocked, 1)
	if err != nil {
		t.Fatalf("read coils: %v", err)
	}
	if got := coils[0]&0x01 == 1; got != latest.Locked {
		t.Fatalf("locked coil=%v want %v", got, latest.Locked)
	}
	if _, err := client.WriteSingleCoil(CoilLocked, 0x0000); err == nil {
		t.Fatalf("expected the lock coil to be read only")
	}

	// Holding registers 0..5
	res, err := client.ReadHoldingRegisters(0, holdingCount)
	if err != nil {
		t.Fatalf("read holding: %v", err)
	}
	if len(res) != holdingCount*2 {
		t.Fatalf("expected %d bytes got %d", holdingCount*2, len(res))
	}
	get := func(i int) uint16 { return binary.BigEndian.Uint16(res[i*2 : i*2+2]) }
	if get(RegIrradiance) != 1000 {
		t.Fatalf("irradiance mismatch: %d", get(RegIrradiance))
	}
	if get(RegTemperature) != encodeTemp(25) {
		t.Fatalf("temperature mismatch: %d", get(RegTemperature))
	}
	if get(RegAlgorithm) != uint16(mppt.PerturbObserve) || get(RegTopology) != uint16(converter.TopologyBuck) {
		t.Fatalf("algorithm/topology mismatch: %d/%d", get(RegAlgorithm), get(RegTopology))
	}
	if get(RegRows) != 2 || get(RegCols) != 2 {
		t.Fatalf("array mismatch: %dx%d", get(RegRows), get(RegCols))
	}

	if _, err := client.ReadHoldingRegisters(4, 3); err == nil {
		t.Fatalf("expected out-of-range holding read to fail")
	}

	// Input registers carry float32 pairs.
	in, err := client.ReadInputRegisters(0, inputCount)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	f32 := func(addr int) float64 {
		hi := binary.BigEndian.Uint16(in[addr*2:])
		lo := binary.BigEndian.Uint16(in[addr*2+2:])
		return float64(math.Float32frombits(uint32(hi)<<16 | uint32(lo)))
	}
	for _, tc := range []struct {
		name string
		addr int
		want float64
	}{
		{"operating voltage", InOperatingVoltage, latest.OperatingVoltage},
		{"operating current", InOperatingCurrent, latest.OperatingCurrent},
		{"operating power", InOperatingPower, latest.OperatingPower},
		{"duty", InDutyCycle, latest.DutyCycle},
		{"load voltage", InLoadVoltage, latest.LoadVoltage},
		{"load current", InLoadCurrent, latest.LoadCurrent},
		{"load power", InLoadPower, latest.LoadPower},
	} {
		if got := f32(tc.addr); math.Abs(got-tc.want) > 1e-3*math.Max(1, math.Abs(tc.want)) {
			t.Fatalf("%s=%v want %v", tc.name, got, tc.want)
		}
	}
}

func TestModbusWrites(t *testing.T) {
	sim := newTrackingSimulator(t)
	client := startController(t, sim)

	if _, err := client.WriteSingleRegister(RegIrradiance, 650); err != nil {
		t.Fatalf("write irradiance: %v", err)
	}
	if _, err := client.WriteSingleRegister(RegTemperature, encodeTemp(-12.5)); err != nil {
		t.Fatalf("write temperature: %v", err)
	}
	env := sim.Get().Environment
	if env.Irradiance != 650 || env.Temperature != -12.5 {
		t.Fatalf("environment not applied: %+v", env)
	}

	if _, err := client.WriteSingleRegister(RegIrradiance, 5000); err == nil {
		t.Fatalf("expected irradiance above range to be rejected")
	}
	if _, err := client.WriteSingleRegister(RegAlgorithm, 9); err == nil {
		t.Fatalf("expected unknown algorithm to be rejected")
	}
	if _, err := client.WriteSingleRegister(9, 1); err == nil {
		t.Fatalf("expected write to unmapped register to fail")
	}

	// Algorithm, topology, rows and cols in one request.
	payload := make([]byte, 8)
	binary.BigEndian.PutUint16(payload[0:], uint16(mppt.IncrementalConductance))
	binary.BigEndian.PutUint16(payload[2:], uint16(converter.TopologyBoost))
	binary.BigEndian.PutUint16(payload[4:], 3)
	binary.BigEndian.PutUint16(payload[6:], 4)
	if _, err := client.WriteMultipleRegisters(RegAlgorithm, 4, payload); err != nil {
		t.Fatalf("write multiple: %v", err)
	}
	cfg := sim.Get().Config
	if cfg.Algorithm != mppt.IncrementalConductance || cfg.Topology != converter.TopologyBoost {
		t.Fatalf("algorithm/topology not applied: %v/%v", cfg.Algorithm, cfg.Topology)
	}
	if cfg.Array != (pv.ArrayConfig{Rows: 3, Cols: 4}) {
		t.Fatalf("array not applied: %v", cfg.Array)
	}
}

func TestEncodeTemp(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{25, 25},
		{-12.34, -12.34},
		{400, 327.67},
		{-400, -327.68},
	}
	for _, tc := range cases {
		if got := decodeTemp(encodeTemp(tc.in)); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("decodeTemp(encodeTemp(%v))=%v want %v", tc.in, got, tc.want)
		}
	}
}
