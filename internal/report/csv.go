package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/Agrid-Dev/pvmocktat/internal/recorder"
)

// WriteCSV writes one row per entry.
func WriteCSV(w io.Writer, entries []recorder.Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Time", "OffsetSeconds", "Type", "Description", "InputPowerW", "OutputPowerW", "IrradianceWm2"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range entries {
		row := []string{
			e.TimeLabel(),
			strconv.FormatFloat(e.Offset.Seconds(), 'f', 3, 64),
			e.Type,
			e.Description,
			strconv.FormatFloat(e.Metrics.InputPower, 'f', 1, 64),
			strconv.FormatFloat(e.Metrics.OutputPower, 'f', 1, 64),
			strconv.FormatFloat(e.Metrics.Irradiance, 'f', 0, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
