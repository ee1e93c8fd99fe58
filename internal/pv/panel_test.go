package pv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func standardPanel() PanelSpec {
	return PanelSpec{Name: "test", Pmax: 300, Voc: 45, Isc: 9, Vmp: 37, TempCoeffV: -0.0035, TempCoeffI: 0.0005}
}

func TestPanelSpecValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PanelSpec)
		want   error
	}{
		{"valid", func(*PanelSpec) {}, nil},
		{"missing name", func(p *PanelSpec) { p.Name = " " }, ErrMissingField},
		{"zero pmax", func(p *PanelSpec) { p.Pmax = 0 }, ErrNonPositiveValue},
		{"negative isc", func(p *PanelSpec) { p.Isc = -1 }, ErrNonPositiveValue},
		{"nan voc", func(p *PanelSpec) { p.Voc = math.NaN() }, ErrNonFiniteValue},
		{"nan pmax", func(p *PanelSpec) { p.Pmax = math.NaN() }, ErrNonFiniteValue},
		{"infinite isc", func(p *PanelSpec) { p.Isc = math.Inf(1) }, ErrNonFiniteValue},
		{"nan vmp", func(p *PanelSpec) { p.Vmp = math.NaN() }, ErrNonFiniteValue},
		{"negative infinite coefficient", func(p *PanelSpec) { p.TempCoeffV = math.Inf(-1) }, ErrNonFiniteValue},
		{"nan current coefficient", func(p *PanelSpec) { p.TempCoeffI = math.NaN() }, ErrNonFiniteValue},
		{"voc equals vmp", func(p *PanelSpec) { p.Vmp = 45 }, ErrVocNotAboveVmp},
		{"isc below imp", func(p *PanelSpec) { p.Isc = 8 }, ErrIscTooLow},
		{"positive voltage coefficient", func(p *PanelSpec) { p.TempCoeffV = 0.001 }, ErrPositiveVoltageCoefficient},
		{"low fill factor", func(p *PanelSpec) { p.Pmax = 150; p.Isc = 9; p.Vmp = 20; p.Voc = 45 }, ErrFillFactorTooLow},
		{"voc limit", func(p *PanelSpec) { p.Voc = 500; p.Vmp = 420; p.Isc = 1; p.Pmax = 400 }, ErrValueLimit},
		{"isc limit", func(p *PanelSpec) { p.Voc = 12; p.Vmp = 10; p.Isc = 60; p.Pmax = 500 }, ErrValueLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := standardPanel()
			tt.mutate(&p)
			err := p.Validate()
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidPanelAlwaysBelowTheoreticalMax(t *testing.T) {
	for _, p := range DefaultCatalog().List() {
		require.NoError(t, p.Validate(), p.Name)
		assert.Greater(t, p.TheoreticalMax(), p.Pmax, p.Name)
	}
}

func TestNewCustomPanel(t *testing.T) {
	in := PanelInput{
		Name:       "Roof",
		Pmax:       ptr(300),
		Voc:        ptr(45),
		Isc:        ptr(9),
		Vmp:        ptr(37),
		TempCoeffV: ptr(-0.35),
		TempCoeffI: ptr(0.05),
	}
	panel, err := NewCustomPanel(in)
	require.NoError(t, err)
	assert.Equal(t, "Roof (Custom)", panel.Name)
	assert.InDelta(t, -0.0035, panel.TempCoeffV, 1e-12)
	assert.InDelta(t, 0.0005, panel.TempCoeffI, 1e-12)
}

func TestNewCustomPanelRejectsVocBelowVmp(t *testing.T) {
	_, err := NewCustomPanel(PanelInput{
		Name:       "Bad",
		Pmax:       ptr(300),
		Voc:        ptr(40),
		Isc:        ptr(9),
		Vmp:        ptr(42),
		TempCoeffV: ptr(-0.35),
		TempCoeffI: ptr(0.05),
	})
	require.ErrorIs(t, err, ErrVocNotAboveVmp)
}

func TestNewCustomPanelMissingField(t *testing.T) {
	_, err := NewCustomPanel(PanelInput{Name: "Bad", Pmax: ptr(300), Voc: ptr(45), Isc: ptr(9), Vmp: ptr(37)})
	require.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), "temp_coeff_v")

	_, err = NewCustomPanel(PanelInput{})
	require.ErrorIs(t, err, ErrMissingField)
}

func TestClampArray(t *testing.T) {
	tests := []struct {
		rows, cols int
		want       ArrayConfig
		clamped    bool
	}{
		{2, 2, ArrayConfig{2, 2}, false},
		{0, 3, ArrayConfig{1, 3}, true},
		{25, 21, ArrayConfig{20, 20}, true},
		{20, 1, ArrayConfig{20, 1}, false},
	}
	for _, tt := range tests {
		got, clamped := ClampArray(tt.rows, tt.cols)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.clamped, clamped)
		assert.NoError(t, got.Validate())
	}
	require.ErrorIs(t, ArrayConfig{Rows: 0, Cols: 1}.Validate(), ErrArrayOutOfRange)
}

func TestEnvironmentValidate(t *testing.T) {
	assert.NoError(t, Environment{Irradiance: 1000, Temperature: 25}.Validate())
	assert.ErrorIs(t, Environment{Irradiance: -1, Temperature: 25}.Validate(), ErrInvalidIrradiance)
	assert.ErrorIs(t, Environment{Irradiance: 1600, Temperature: 25}.Validate(), ErrInvalidIrradiance)
	assert.ErrorIs(t, Environment{Irradiance: 500, Temperature: 120}.Validate(), ErrInvalidTemperature)
}
