package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/go-pdf/fpdf"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"

	"github.com/Agrid-Dev/pvmocktat/internal/recorder"
)

// Page layout in millimetres, A4 portrait.
const (
	pageWidth   = 210.0
	margin      = 15.0
	pageBottom  = 280.0
	entryHeight = 60.0
	entryStride = 68.0
	graphWidth  = 80.0
	graphHeight = 30.0
)

// WritePDF renders the session report.
func WritePDF(w io.Writer, s recorder.Session) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle("PV System Analysis Report", true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	drawHeader(pdf, true, s)
	y := 50.0
	ensureSpace := func(h float64) {
		if y+h > pageBottom {
			pdf.AddPage()
			drawHeader(pdf, false, s)
			y = 30
		}
	}

	for i, e := range s.Entries {
		ensureSpace(entryHeight + 5)
		drawEntry(pdf, tr, i, e, y)
		y += entryStride
	}

	ensureSpace(50)
	y += 10
	pdf.SetDrawColor(0, 0, 0)
	pdf.SetLineWidth(0.5)
	pdf.Line(margin, y, pageWidth-margin, y)
	y += 10

	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(0, 0, 0)
	pdf.Text(margin, y, "AUTOMATED CONCLUSION")
	y += 4

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetXY(margin, y)
	pdf.MultiCell(pageWidth-2*margin, 5, tr(Summarize(s).Conclusion()), "", "L", false)

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return pdf.Output(w)
}

func drawHeader(pdf *fpdf.Fpdf, first bool, s recorder.Session) {
	h := 15.0
	if first {
		h = 40
	}
	pdf.SetFillColor(26, 35, 126)
	pdf.Rect(0, 0, pageWidth, h, "F")
	pdf.SetTextColor(255, 255, 255)
	if !first {
		pdf.SetFont("Helvetica", "", 10)
		pdf.Text(margin, 10, "PV Analysis Report (Continuation)")
		return
	}
	pdf.SetFont("Helvetica", "B", 22)
	pdf.Text(margin, 20, "PV SYSTEM ANALYSIS REPORT")
	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(margin, 32, "Generated: "+s.Ended.Format(time.RFC1123))
	pdf.Text(margin, 37, fmt.Sprintf("Total Events Logged: %d   |   Session: %s", len(s.Entries), s.ID))
}

func drawEntry(pdf *fpdf.Fpdf, tr func(string) string, i int, e recorder.Entry, y float64) {
	pdf.SetFillColor(245, 245, 245)
	pdf.SetDrawColor(220, 220, 220)
	pdf.SetLineWidth(0.2)
	pdf.RoundedRect(margin, y, pageWidth-2*margin, entryHeight, 2, "1234", "FD")

	pdf.SetFont("Helvetica", "B", 11)
	switch {
	case strings.Contains(e.Type, "ALERT") || strings.Contains(e.Type, "WARNING"):
		pdf.SetTextColor(200, 50, 50)
	case strings.Contains(e.Type, "LOCKED"):
		pdf.SetTextColor(0, 120, 0)
	default:
		pdf.SetTextColor(0, 0, 0)
	}
	pdf.Text(margin+5, y+8, tr(fmt.Sprintf("[%s] %s", e.TimeLabel(), e.Type)))

	pdf.SetTextColor(50, 50, 50)
	pdf.SetFont("Helvetica", "", 9)
	for j, line := range pdf.SplitText(tr(e.Description), 170) {
		if j == 2 {
			break
		}
		pdf.Text(margin+5, y+15+float64(j)*4, line)
	}

	pdf.SetFont("Courier", "B", 8)
	pdf.SetTextColor(0, 0, 100)
	pdf.Text(margin+5, y+23, tr(e.Metrics.String()))

	graphY := y + 26
	drawGraph(pdf, fmt.Sprintf("pv-%d", i), e, curvePV, margin+5, graphY, "P-V Curve Snapshot", "No PV Graph")
	drawGraph(pdf, fmt.Sprintf("iv-%d", i), e, curveIV, margin+90, graphY, "I-V Curve Snapshot", "No IV Graph")
}

func drawGraph(pdf *fpdf.Fpdf, name string, e recorder.Entry, kind curveKind, x, y float64, caption, placeholder string) {
	pdf.SetFont("Helvetica", "", 6)
	if e.Curve != nil {
		img, err := renderCurve(e.Curve, kind, vg.Length(graphWidth)*vg.Millimeter, vg.Length(graphHeight)*vg.Millimeter)
		if err == nil {
			opt := fpdf.ImageOptions{ImageType: "PNG"}
			pdf.RegisterImageOptionsReader(name, opt, bytes.NewReader(img))
			pdf.ImageOptions(name, x, y, graphWidth, graphHeight, false, opt, 0, "")
			pdf.Text(x, y+graphHeight+2, caption)
			return
		}
		klog.V(2).InfoS("Curve render failed", "entry", name, "err", err)
	}
	pdf.Rect(x, y, graphWidth, graphHeight, "D")
	pdf.Text(x+25, y+15, placeholder)
}

// FileName is the report name for a session ending at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("PV_Engineering_Report_%d.pdf", t.UnixMilli())
}

// PDFReporter writes a report file per finished session into Dir.
type PDFReporter struct {
	Dir string
}

func (r PDFReporter) Report(ctx context.Context, s recorder.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	path := filepath.Join(r.Dir, FileName(s.Ended))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := WritePDF(f, s); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	klog.InfoS("Session report written", "session", s.ID, "path", path)
	return nil
}
