package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"time"

	"k8s.io/klog/v2"
	testclock "k8s.io/utils/clock/testing"

	"github.com/Agrid-Dev/pvmocktat/internal/converter"
	"github.com/Agrid-Dev/pvmocktat/internal/mppt"
	"github.com/Agrid-Dev/pvmocktat/internal/pv"
	"github.com/Agrid-Dev/pvmocktat/internal/simulator"
)

// Command is applied before the tick with the given number.
type Command struct {
	Tick  int
	Apply func(*simulator.Simulator) error
}

// SimulateTracker runs ticks on simulated time and writes one CSV row per tick.
func SimulateTracker(ticks int, interval time.Duration, filename string, cfg simulator.Config, commands []Command) error {
	fc := testclock.NewFakeClock(time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC))
	sim, err := simulator.New(cfg, pv.Environment{Irradiance: pv.STCIrradiance, Temperature: pv.STCTemperature},
		mppt.DefaultParams(),
		simulator.WithClock(fc),
		simulator.WithControllerOptions(mppt.WithClock(fc)),
	)
	if err != nil {
		return fmt.Errorf("failed to create simulator: %w", err)
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"Tick", "Irradiance", "Temperature", "Algorithm", "Voltage", "Current", "Power", "Trial", "Duty", "LoadPower", "Status", "Locked"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i := 1; i <= ticks; i++ {
		for _, cmd := range commands {
			if cmd.Tick == i {
				if err := cmd.Apply(sim); err != nil {
					return fmt.Errorf("command at tick %d: %w", i, err)
				}
			}
		}

		r := sim.Tick()
		if err := writer.Write([]string{
			fmt.Sprintf("%d", r.Seq),
			fmt.Sprintf("%.0f", r.Environment.Irradiance),
			fmt.Sprintf("%.1f", r.Environment.Temperature),
			r.Algorithm.String(),
			fmt.Sprintf("%.3f", r.OperatingVoltage),
			fmt.Sprintf("%.3f", r.OperatingCurrent),
			fmt.Sprintf("%.2f", r.OperatingPower),
			fmt.Sprintf("%.3f", r.TrialVoltage),
			fmt.Sprintf("%.4f", r.DutyCycle),
			fmt.Sprintf("%.2f", r.LoadPower),
			r.Status,
			fmt.Sprintf("%t", r.Locked),
		}); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
		if r.LockAcquired {
			klog.InfoS("Locked", "tick", r.Seq, "voltage", r.OperatingVoltage, "power", r.OperatingPower)
		}

		fc.Step(interval)
	}
	return nil
}

func main() {
	var (
		ticks    int
		interval time.Duration
		out      string
		rows     int
		cols     int
	)
	flag.IntVar(&ticks, "ticks", 600, "number of ticks to simulate")
	flag.DurationVar(&interval, "interval", 100*time.Millisecond, "simulated time per tick")
	flag.StringVar(&out, "out", "mppt_trace.csv", "output CSV file")
	flag.IntVar(&rows, "rows", 2, "panels in series")
	flag.IntVar(&cols, "cols", 2, "strings in parallel")
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	panel, err := pv.DefaultCatalog().Lookup(pv.DefaultPanelName)
	if err != nil {
		klog.ErrorS(err, "Lookup default panel")
		os.Exit(1)
	}
	cfg := simulator.Config{
		Array:     pv.ArrayConfig{Rows: rows, Cols: cols},
		Panel:     panel,
		Topology:  converter.TopologyBuck,
		Algorithm: mppt.PerturbObserve,
	}
	commands := []Command{
		{Tick: 200, Apply: func(s *simulator.Simulator) error { return s.SetIrradiance(600) }},
		{Tick: 300, Apply: func(s *simulator.Simulator) error { return s.SetTemperature(45) }},
		{Tick: 400, Apply: func(s *simulator.Simulator) error { return s.SetAlgorithm(mppt.IncrementalConductance) }},
	}
	if err := SimulateTracker(ticks, interval, out, cfg, commands); err != nil {
		klog.ErrorS(err, "Simulation failed")
		os.Exit(1)
	}
	klog.InfoS("Trace written", "file", out, "ticks", ticks)
}
