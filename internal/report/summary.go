package report

import (
	"fmt"

	"github.com/Agrid-Dev/pvmocktat/internal/recorder"
)

type Verdict string

const (
	VerdictOptimal         Verdict = "OPTIMAL"
	VerdictModerate        Verdict = "MODERATE"
	VerdictUnderperforming Verdict = "UNDERPERFORMING"
)

// Summary is the automated conclusion of a session.
type Summary struct {
	PeakOutputPower   float64 `json:"peak_output_power"`
	AverageEfficiency float64 `json:"average_efficiency"` // percent, over entries with input power
	Verdict           Verdict `json:"verdict"`
	Entries           int     `json:"entries"`
}

func Summarize(s recorder.Session) Summary {
	var (
		sum   Summary
		total float64
		n     int
	)
	sum.Entries = len(s.Entries)
	for _, e := range s.Entries {
		sum.PeakOutputPower = max(sum.PeakOutputPower, e.Metrics.OutputPower)
		if e.Metrics.InputPower > 0 {
			total += e.Metrics.OutputPower / e.Metrics.InputPower
			n++
		}
	}
	if n > 0 {
		sum.AverageEfficiency = total / float64(n) * 100
	}
	switch {
	case sum.AverageEfficiency > 90:
		sum.Verdict = VerdictOptimal
	case sum.AverageEfficiency > 50:
		sum.Verdict = VerdictModerate
	default:
		sum.Verdict = VerdictUnderperforming
	}
	return sum
}

func (s Summary) Conclusion() string {
	text := fmt.Sprintf("During this simulation session, the system reached a Peak Power Output of %.2f W. "+
		"The average system conversion efficiency was observed to be %.2f%%. ", s.PeakOutputPower, s.AverageEfficiency)
	switch s.Verdict {
	case VerdictOptimal:
		return text + "The system is operating at OPTIMAL EFFICIENCY, indicating excellent MPPT tracking performance and low losses."
	case VerdictModerate:
		return text + "The system shows MODERATE EFFICIENCY. Consider optimizing the MPPT algorithm or reducing temperature losses."
	default:
		return text + "The system appears to be UNDERPERFORMING (<50%). This may be due to partial shading conditions, " +
			"mismatch losses, or sub-optimal MPPT tracking during the test."
	}
}
