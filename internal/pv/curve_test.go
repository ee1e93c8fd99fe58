package pv

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateAtSTC(t *testing.T) {
	panel := standardPanel()
	arr := ArrayConfig{Rows: 2, Cols: 1}
	env := Environment{Irradiance: 1000, Temperature: 25}

	c := ArrayCurve(panel, arr, env)
	assert.InDelta(t, 90, c.Voc, 1e-9)
	assert.InDelta(t, 9, c.Isc, 1e-9)

	assert.Equal(t, Point{Voltage: 0, Current: 9, Power: 0}, Evaluate(panel, arr, env, 0))
	assert.InDelta(t, 0, Evaluate(panel, arr, env, 90).Current, 1e-9)

	mpp := c.MaxPowerPoint()
	assert.InDelta(t, 74.81, mpp.Voltage, 0.01)
	assert.InDelta(t, 631.2, mpp.Power, 0.1)
}

func TestEvaluateScalesWithEnvironment(t *testing.T) {
	panel := standardPanel()
	hot := PanelCurve(panel, Environment{Irradiance: 1000, Temperature: 45})
	assert.InDelta(t, 45*(1-0.0035*20), hot.Voc, 1e-9)

	dim := PanelCurve(panel, Environment{Irradiance: 500, Temperature: 25})
	assert.InDelta(t, 45*(1+0.045*math.Log(0.5)), dim.Voc, 1e-9)
	assert.InDelta(t, 4.5, dim.Isc, 1e-9)
}

func TestEvaluateIdle(t *testing.T) {
	got := Evaluate(standardPanel(), ArrayConfig{Rows: 2, Cols: 2}, Environment{Irradiance: 9.9, Temperature: 25}, 40)
	assert.Equal(t, Point{}, got)
}

func TestEvaluateNeverNegative(t *testing.T) {
	arr := ArrayConfig{Rows: 3, Cols: 2}
	for _, panel := range DefaultCatalog().List() {
		for g := 10.0; g <= 1200; g += 97 {
			for temp := -20.0; temp <= 60; temp += 10 {
				env := Environment{Irradiance: g, Temperature: temp}
				voc := ArrayCurve(panel, arr, env).Voc
				for _, v := range []float64{-5, 0, voc / 3, voc, voc * 1.5} {
					p := Evaluate(panel, arr, env, v)
					require.GreaterOrEqual(t, p.Current, 0.0)
					require.GreaterOrEqual(t, p.Power, 0.0)
				}
			}
		}
	}
}

func TestPanelSnapshot(t *testing.T) {
	snap := PanelSnapshot(standardPanel(), Environment{Irradiance: 800, Temperature: 25})
	require.NotNil(t, snap)
	require.Len(t, snap.Points, CurvePoints)
	assert.Zero(t, snap.Points[0].Voltage)
	assert.InDelta(t, snap.Voc, snap.Points[CurvePoints-1].Voltage, 1e-9)
	assert.InDelta(t, 0, snap.Points[CurvePoints-1].Current, 1e-9)

	assert.Nil(t, PanelSnapshot(standardPanel(), Environment{Irradiance: 5, Temperature: 25}))
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panels.yaml")
	data := `panels:
  - name: Bifacial 550W
    pmax: 550
    voc: 49.9
    isc: 14
    vmp: 41.9
    temp_coeff_v: -0.0026
    temp_coeff_i: 0.00046
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	p, err := c.Lookup("bifacial 550w")
	require.NoError(t, err)
	assert.Equal(t, 550.0, p.Pmax)

	_, err = c.Lookup(DefaultPanelName)
	assert.NoError(t, err)
	_, err = c.Lookup("nope")
	assert.ErrorIs(t, err, ErrUnknownPanel)
	assert.ErrorIs(t, c.Add(p), ErrDuplicatePanel)
}

func TestLoadCatalogRejectsInvalidPanel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panels.yaml")
	require.NoError(t, os.WriteFile(path, []byte("panels:\n  - {name: bad, pmax: 300, voc: 40, isc: 9, vmp: 42}\n"), 0o600))
	_, err := LoadCatalog(path)
	require.ErrorIs(t, err, ErrVocNotAboveVmp)
}

func TestLoadCatalogRejectsNonFinitePanel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panels.yaml")
	require.NoError(t, os.WriteFile(path, []byte("panels:\n  - {name: nan, pmax: 300, voc: .nan, isc: 9, vmp: 37}\n"), 0o600))
	_, err := LoadCatalog(path)
	require.ErrorIs(t, err, ErrNonFiniteValue)
	assert.Contains(t, err.Error(), "voc")
}
