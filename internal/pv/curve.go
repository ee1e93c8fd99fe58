package pv

import "math"

const (
	// CurveExponent shapes the knee of the I-V curve near Voc.
	CurveExponent = 15.0
	// LightVoltageCoeff scales the logarithmic Voc drop with irradiance.
	LightVoltageCoeff = 0.045

	// CurvePoints is the number of samples in a CurveSnapshot.
	CurvePoints = 21
)

// Curve is the I-V relationship of one panel or a whole array at a fixed environment.
type Curve struct {
	Voc float64
	Isc float64
}

// Point is one operating point on a curve.
type Point struct {
	Voltage float64 `json:"voltage"`
	Current float64 `json:"current"`
	Power   float64 `json:"power"`
}

func thermalFactor(panel PanelSpec, t float64) float64 {
	return 1 + panel.TempCoeffV*(t-STCTemperature)
}

func lightFactor(g float64) float64 {
	if g <= 0 {
		return 0
	}
	return math.Max(0, 1+LightVoltageCoeff*math.Log(g/STCIrradiance))
}

// PanelCurve is the curve of a single module.
func PanelCurve(panel PanelSpec, env Environment) Curve {
	return Curve{
		Voc: panel.Voc * thermalFactor(panel, env.Temperature) * lightFactor(env.Irradiance),
		Isc: panel.Isc * (env.Irradiance / STCIrradiance),
	}
}

// ArrayCurve scales the panel curve: Voc by rows in series, Isc by cols in parallel.
func ArrayCurve(panel PanelSpec, arr ArrayConfig, env Environment) Curve {
	c := PanelCurve(panel, env)
	c.Voc *= float64(arr.Rows)
	c.Isc *= float64(arr.Cols)
	return c
}

// Current returns I at voltage v, never negative. Negative voltages evaluate as 0.
func (c Curve) Current(v float64) float64 {
	if c.Voc <= 0 || c.Isc <= 0 {
		return 0
	}
	v = math.Max(v, 0)
	return math.Max(0, c.Isc*(1-math.Pow(v/c.Voc, CurveExponent)))
}

func (c Curve) At(v float64) Point {
	i := c.Current(v)
	return Point{Voltage: v, Current: i, Power: v * i}
}

// Evaluate computes the operating point of an array at voltage v, or zero when idle.
func Evaluate(panel PanelSpec, arr ArrayConfig, env Environment, v float64) Point {
	if env.Idle() {
		return Point{}
	}
	return ArrayCurve(panel, arr, env).At(v)
}

// CurveSnapshot is a sampled P-V / I-V curve used by reports.
type CurveSnapshot struct {
	Voc    float64 `json:"voc"`
	Points []Point `json:"points"`
}

// PanelSnapshot samples a single-panel curve from 0 to Voc. It returns nil when the
// irradiance ratio is below 1%, where there is nothing worth drawing.
func PanelSnapshot(panel PanelSpec, env Environment) *CurveSnapshot {
	if env.Irradiance/STCIrradiance < 0.01 {
		return nil
	}
	c := PanelCurve(panel, env)
	if c.Voc <= 0 {
		return nil
	}
	snap := &CurveSnapshot{Voc: c.Voc, Points: make([]Point, 0, CurvePoints)}
	for k := range CurvePoints {
		v := c.Voc * float64(k) / float64(CurvePoints-1)
		snap.Points = append(snap.Points, c.At(v))
	}
	return snap
}

// MaxPowerPoint is the analytic maximum of the curve. Setting dP/dV to zero gives
// V = Voc * (1+n)^(-1/n).
func (c Curve) MaxPowerPoint() Point {
	if c.Voc <= 0 || c.Isc <= 0 {
		return Point{}
	}
	return c.At(c.Voc * math.Pow(1+CurveExponent, -1/CurveExponent))
}
