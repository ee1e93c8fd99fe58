package report

import (
	"bytes"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/Agrid-Dev/pvmocktat/internal/pv"
)

var (
	powerColor   = color.RGBA{R: 255, G: 160, A: 255}
	currentColor = color.RGBA{G: 170, B: 230, A: 255}
)

type curveKind int

const (
	curvePV curveKind = iota
	curveIV
)

// renderCurve draws a P-V or I-V snapshot as a PNG.
func renderCurve(snap *pv.CurveSnapshot, kind curveKind, width, height vg.Length) ([]byte, error) {
	if snap == nil || len(snap.Points) == 0 {
		return nil, fmt.Errorf("empty curve snapshot")
	}
	p := plot.New()
	p.X.Label.Text = "Voltage (V)"
	p.X.Min = 0
	p.Y.Min = 0
	c := powerColor
	switch kind {
	case curvePV:
		p.Title.Text = "P-V Curve"
		p.Y.Label.Text = "Power (W)"
	case curveIV:
		p.Title.Text = "I-V Curve"
		p.Y.Label.Text = "Current (A)"
		c = currentColor
	}

	pts := make(plotter.XYs, len(snap.Points))
	for i, pt := range snap.Points {
		pts[i].X = pt.Voltage
		if kind == curvePV {
			pts[i].Y = pt.Power
		} else {
			pts[i].Y = pt.Current
		}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.LineStyle.Width = vg.Points(1.5)
	line.LineStyle.Color = c
	p.Add(plotter.NewGrid(), line)

	canvas := vgimg.NewWith(vgimg.UseWH(width, height), vgimg.UseDPI(150))
	p.Draw(draw.New(canvas))

	var buf bytes.Buffer
	if _, err := (vgimg.PngCanvas{Canvas: canvas}).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode curve png: %w", err)
	}
	return buf.Bytes(), nil
}
