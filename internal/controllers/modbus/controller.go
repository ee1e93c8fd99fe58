package modbusctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	mbserver "github.com/tbrandon/mbserver"
	"k8s.io/klog/v2"

	"github.com/Agrid-Dev/pvmocktat/internal/converter"
	"github.com/Agrid-Dev/pvmocktat/internal/mppt"
	"github.com/Agrid-Dev/pvmocktat/internal/ports"
	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
)

// Holding register map (read/write).
const (
	RegIrradiance  = 0 // W/m²
	RegTemperature = 1 // °C × TemperatureScale, signed
	RegAlgorithm   = 2 // mppt.Algorithm
	RegTopology    = 3 // converter.Topology
	RegRows        = 4
	RegCols        = 5

	holdingCount = 6
)

// Input register map: float32 values, two registers each, high word first.
const (
	InOperatingVoltage = 0
	InOperatingCurrent = 2
	InOperatingPower   = 4
	InDutyCycle        = 6
	InLoadVoltage      = 8
	InLoadCurrent      = 10
	InLoadPower        = 12

	inputCount = 14
)

// CoilLocked reports whether the tracker holds a lock. Read only.
const CoilLocked = 0

// Config for the Modbus controller.
type Config struct {
	DeviceID string
	Addr     string
	UnitID   byte // UnitID (Modbus slave/unit ID). Use an integer 1..247.
}

type Controller struct {
	svc ports.SimulatorService
	cfg Config

	serv *mbserver.Server
}

func New(svc ports.SimulatorService, cfg Config) (*Controller, error) {
	if cfg.UnitID == 0 {
		return nil, errors.New("modbus: UnitID is required (non-zero)")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1502"
	}
	return &Controller{svc: svc, cfg: cfg}, nil
}

// Run starts the Modbus server and registers handlers that apply writes immediately and
// serve reads directly from the simulator. It blocks until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	serv := mbserver.NewServer()
	c.serv = serv

	// Register handlers BEFORE starting the TCP listener to avoid races inside mbserver
	// between handler registration and the server's goroutines.
	serv.RegisterFunctionHandler(1, c.readCoils)
	serv.RegisterFunctionHandler(3, c.readHoldingRegisters)
	serv.RegisterFunctionHandler(4, c.readInputRegisters)
	serv.RegisterFunctionHandler(5, c.writeSingleCoil)
	serv.RegisterFunctionHandler(6, c.writeSingleRegister)
	serv.RegisterFunctionHandler(16, c.writeMultipleRegisters)

	// Now start listening after all handlers are registered.
	if err := serv.ListenTCP(c.cfg.Addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", c.cfg.Addr, err)
	}
	klog.InfoS("Modbus server listening", "addr", c.cfg.Addr, "unit", c.cfg.UnitID)

	// Block until ctx.Done()
	<-ctx.Done()
	serv.Close()
	return ctx.Err()
}

// Read Coils (function 1) - coil 0 is the lock flag.
func (c *Controller) readCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, exc := readRequest(frame.GetData(), 2000)
	if exc != nil {
		return []byte{}, exc
	}
	if start != CoilLocked || qty != 1 {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	coilByte := byte(0)
	if c.svc.Get().Latest.Locked {
		coilByte = 0x01
	}
	// response: byte count (1) + coil bytes
	return []byte{1, coilByte}, &mbserver.Success
}

// Read Holding Registers (function 3).
func (c *Controller) readHoldingRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, exc := readRequest(frame.GetData(), 125)
	if exc != nil {
		return []byte{}, exc
	}
	if start+qty > holdingCount {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	regs := holdingRegisters(c.svc.Get())
	return registerResponse(regs[start : start+qty]), &mbserver.Success
}

// Read Input Registers (function 4).
func (c *Controller) readInputRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, qty, exc := readRequest(frame.GetData(), 125)
	if exc != nil {
		return []byte{}, exc
	}
	if start+qty > inputCount {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	regs := inputRegisters(c.svc.Get().Latest)
	return registerResponse(regs[start : start+qty]), &mbserver.Success
}

// Write Single Coil (function 5) - the lock coil is owned by the tracker.
func (c *Controller) writeSingleCoil(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	if len(frame.GetData()) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	return []byte{}, &mbserver.IllegalDataAddress
}

// Write Single Register (function 6)
func (c *Controller) writeSingleRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])

	if exc := c.writeRegister(int(addr), value); exc != nil {
		return []byte{}, exc
	}

	// echo request (address + value)
	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

// Write Multiple Registers (function 16)
func (c *Controller) writeMultipleRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	d := frame.GetData()
	if len(d) < 5 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := binary.BigEndian.Uint16(d[0:2])
	quantity := binary.BigEndian.Uint16(d[2:4])
	byteCount := int(d[4])
	if byteCount != int(quantity)*2 || len(d) < 5+byteCount {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if int(start)+int(quantity) > holdingCount {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	for i := 0; i < int(quantity); i++ {
		val := binary.BigEndian.Uint16(d[5+i*2 : 5+i*2+2])
		if exc := c.writeRegister(int(start)+i, val); exc != nil {
			return []byte{}, exc
		}
	}

	resp := make([]byte, 4)
	binary.BigEndian.PutUint16(resp[0:2], start)
	binary.BigEndian.PutUint16(resp[2:4], quantity)
	return resp, &mbserver.Success
}

func (c *Controller) writeRegister(addr int, value uint16) *mbserver.Exception {
	var err error
	switch addr {
	case RegIrradiance:
		err = c.svc.SetIrradiance(float64(value))
	case RegTemperature:
		err = c.svc.SetTemperature(decodeTemp(value))
	case RegAlgorithm:
		err = c.svc.SetAlgorithm(mppt.Algorithm(value))
	case RegTopology:
		err = c.svc.SetTopology(converter.Topology(value))
	case RegRows:
		cur := c.svc.Get()
		c.svc.SetArray(int(value), cur.Config.Array.Cols)
	case RegCols:
		cur := c.svc.Get()
		c.svc.SetArray(cur.Config.Array.Rows, int(value))
	default:
		return &mbserver.IllegalDataAddress
	}
	if err != nil {
		klog.V(2).InfoS("Modbus write rejected", "register", addr, "value", value, "err", err)
		return &mbserver.IllegalDataValue
	}
	return nil
}

func readRequest(data []byte, maxQty int) (start, qty int, exc *mbserver.Exception) {
	if len(data) < 4 {
		return 0, 0, &mbserver.IllegalDataValue
	}
	start = int(binary.BigEndian.Uint16(data[0:2]))
	qty = int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > maxQty {
		return 0, 0, &mbserver.IllegalDataValue
	}
	return start, qty, nil
}

// Build response: byte count + register bytes
func registerResponse(regs []uint16) []byte {
	byteCount := len(regs) * 2
	resp := make([]byte, 1+byteCount)
	resp[0] = byte(byteCount)
	for i, r := range regs {
		binary.BigEndian.PutUint16(resp[1+i*2:1+i*2+2], r)
	}
	return resp
}

func holdingRegisters(s simulator.Snapshot) [holdingCount]uint16 {
	return [holdingCount]uint16{
		RegIrradiance:  encodeIrradiance(s.Environment.Irradiance),
		RegTemperature: encodeTemp(s.Environment.Temperature),
		RegAlgorithm:   uint16(s.Config.Algorithm),
		RegTopology:    uint16(s.Config.Topology),
		RegRows:        uint16(s.Config.Array.Rows),
		RegCols:        uint16(s.Config.Array.Cols),
	}
}

func inputRegisters(r simulator.TickResult) [inputCount]uint16 {
	var regs [inputCount]uint16
	for addr, v := range map[int]float64{
		InOperatingVoltage: r.OperatingVoltage,
		InOperatingCurrent: r.OperatingCurrent,
		InOperatingPower:   r.OperatingPower,
		InDutyCycle:        r.DutyCycle,
		InLoadVoltage:      r.LoadVoltage,
		InLoadCurrent:      r.LoadCurrent,
		InLoadPower:        r.LoadPower,
	} {
		regs[addr], regs[addr+1] = encodeFloat32(v)
	}
	return regs
}

const TemperatureScale int = 100

func encodeTemp(v float64) uint16 {
	r := min(max(int(math.Round(v*float64(TemperatureScale))), math.MinInt16), math.MaxInt16)
	return uint16(int16(r))
}

func decodeTemp(u uint16) float64 {
	i := int16(u)
	return float64(i) / float64(TemperatureScale)
}

func encodeIrradiance(v float64) uint16 {
	return uint16(min(max(int(math.Round(v)), 0), math.MaxUint16))
}

func encodeFloat32(v float64) (hi, lo uint16) {
	bits := math.Float32bits(float32(v))
	return uint16(bits >> 16), uint16(bits)
}
