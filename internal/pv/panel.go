package pv

import (
	"fmt"
	"math"
	"strings"
)

// Hard caps for a single module.
const (
	MaxPanelVoc = 400.0
	MaxPanelIsc = 50.0
)

// PanelSpec holds datasheet ratings at STC. Temperature coefficients are fractions per °C.
type PanelSpec struct {
	Name       string  `json:"name" yaml:"name"`
	Pmax       float64 `json:"pmax" yaml:"pmax"` // W
	Voc        float64 `json:"voc" yaml:"voc"`   // V
	Isc        float64 `json:"isc" yaml:"isc"`   // A
	Vmp        float64 `json:"vmp" yaml:"vmp"`   // V
	TempCoeffV float64 `json:"temp_coeff_v" yaml:"temp_coeff_v"`
	TempCoeffI float64 `json:"temp_coeff_i" yaml:"temp_coeff_i"`
}

// TheoreticalMax is Voc x Isc, the upper bound no real module reaches.
func (p PanelSpec) TheoreticalMax() float64 {
	return p.Voc * p.Isc
}

// FillFactor is Pmax / (Voc x Isc).
func (p PanelSpec) FillFactor() float64 {
	if p.TheoreticalMax() == 0 {
		return 0
	}
	return p.Pmax / p.TheoreticalMax()
}

// Validate checks the physical consistency rules, first failing rule wins.
func (p PanelSpec) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name", ErrMissingField)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"pmax", p.Pmax}, {"voc", p.Voc}, {"isc", p.Isc}, {"vmp", p.Vmp},
		{"temp_coeff_v", p.TempCoeffV}, {"temp_coeff_i", p.TempCoeffI},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: %s", ErrNonFiniteValue, f.name)
		}
	}
	if p.Pmax <= 0 || p.Voc <= 0 || p.Isc <= 0 || p.Vmp <= 0 {
		return ErrNonPositiveValue
	}
	if p.Voc <= p.Vmp {
		return fmt.Errorf("%w (Voc %gV, Vmp %gV)", ErrVocNotAboveVmp, p.Voc, p.Vmp)
	}
	if imp := p.Pmax / p.Vmp; p.Isc <= imp {
		return fmt.Errorf("%w (Isc %gA, need more than %.2fA for %gW at %gV)", ErrIscTooLow, p.Isc, imp, p.Pmax, p.Vmp)
	}
	if p.Pmax >= p.TheoreticalMax() {
		return fmt.Errorf("%w (Pmax %gW, Voc x Isc %.1fW)", ErrPmaxExceedsTheoretical, p.Pmax, p.TheoreticalMax())
	}
	if p.TempCoeffV > 0 {
		return fmt.Errorf("%w (%g)", ErrPositiveVoltageCoefficient, p.TempCoeffV)
	}
	if p.Pmax < 0.5*p.TheoreticalMax() {
		return fmt.Errorf("%w (%.1f%%)", ErrFillFactorTooLow, p.FillFactor()*100)
	}
	if p.Voc > MaxPanelVoc || p.Isc > MaxPanelIsc {
		return ErrValueLimit
	}
	return nil
}

// PanelInput is a user-entered custom panel. Coefficients are in %/°C, as printed on datasheets.
type PanelInput struct {
	Name       string   `json:"name"`
	Pmax       *float64 `json:"pmax"`
	Voc        *float64 `json:"voc"`
	Isc        *float64 `json:"isc"`
	Vmp        *float64 `json:"vmp"`
	TempCoeffV *float64 `json:"temp_coeff_v"`
	TempCoeffI *float64 `json:"temp_coeff_i"`
}

// NewCustomPanel validates a custom panel and converts its coefficients to fractions.
func NewCustomPanel(in PanelInput) (PanelSpec, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return PanelSpec{}, fmt.Errorf("%w: name", ErrMissingField)
	}
	fields := []struct {
		name string
		v    *float64
	}{
		{"pmax", in.Pmax},
		{"voc", in.Voc},
		{"isc", in.Isc},
		{"vmp", in.Vmp},
		{"temp_coeff_v", in.TempCoeffV},
		{"temp_coeff_i", in.TempCoeffI},
	}
	for _, f := range fields {
		if f.v == nil {
			return PanelSpec{}, fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
	}

	panel := PanelSpec{
		Name:       name + " (Custom)",
		Pmax:       *in.Pmax,
		Voc:        *in.Voc,
		Isc:        *in.Isc,
		Vmp:        *in.Vmp,
		TempCoeffV: *in.TempCoeffV / 100,
		TempCoeffI: *in.TempCoeffI / 100,
	}
	if err := panel.Validate(); err != nil {
		return PanelSpec{}, err
	}
	return panel, nil
}
