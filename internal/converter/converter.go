package converter

import "strings"

const (
	MinDuty    = 0.05
	MaxDuty    = 0.95
	Efficiency = 0.96

	// MinInputVoltage is the input below which there is no meaningful operating point.
	MinInputVoltage = 1.0

	droopPerWatt  = 0.005
	stcIrradiance = 1000.0
)

// Output is the static converter state for one operating point.
type Output struct {
	Duty         float64 `json:"duty"`
	LoadVoltage  float64 `json:"load_voltage"`
	LoadCurrent  float64 `json:"load_current"`
	LoadPower    float64 `json:"load_power"`
	InputCurrent float64 `json:"input_current"`
	Status       string  `json:"status"`
}

// TargetLoadVoltage is the achievable regulated voltage after irradiance droop.
func TargetLoadVoltage(t Topology, rows int, irradiance float64) float64 {
	scale := float64(rows) / 2
	return t.BaseLoadVoltage()*scale - (stcIrradiance-irradiance)*droopPerWatt*scale
}

// Evaluate derives duty cycle and output quantities from the array operating point.
func Evaluate(t Topology, rows int, irradiance, vin, pin float64) Output {
	out := Output{}
	if vin <= MinInputVoltage {
		out.Status = status(t, out.Duty)
		return out
	}

	vload := TargetLoadVoltage(t, rows, irradiance)
	out.Duty = clampDuty(duty(t, vin, vload))
	out.LoadVoltage = vload
	out.LoadPower = pin * Efficiency
	if vload > 0 {
		out.LoadCurrent = out.LoadPower / vload
	}
	out.InputCurrent = pin / vin
	out.Status = status(t, out.Duty)
	return out
}

func duty(t Topology, vin, vload float64) float64 {
	switch t {
	case TopologyBuck:
		if vload >= vin {
			return MaxDuty
		}
		return vload / vin
	case TopologyBoost:
		if vin >= vload {
			return MinDuty
		}
		return 1 - vin/vload
	case TopologyBuckBoost:
		return vload / (vin + vload)
	default:
		return 0
	}
}

func clampDuty(d float64) float64 {
	return min(max(d, MinDuty), MaxDuty)
}

// AtLimit reports whether d sits on or outside either hardware bound.
func AtLimit(d float64) bool {
	return d <= MinDuty || d >= MaxDuty
}

func status(t Topology, d float64) string {
	s := strings.ToUpper(t.String())
	if AtLimit(d) {
		return s + " (LIMIT)"
	}
	return s + " (REGULATING)"
}
