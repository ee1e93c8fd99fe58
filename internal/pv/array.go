package pv

import "fmt"

const (
	MinArraySize = 1
	MaxArraySize = 20
)

// ArrayConfig is a rows x cols grid: rows in series, cols in parallel.
type ArrayConfig struct {
	Rows int `json:"rows" yaml:"rows"`
	Cols int `json:"cols" yaml:"cols"`
}

func (a ArrayConfig) Validate() error {
	if a.Rows < MinArraySize || a.Rows > MaxArraySize || a.Cols < MinArraySize || a.Cols > MaxArraySize {
		return fmt.Errorf("%w: got %dx%d", ErrArrayOutOfRange, a.Rows, a.Cols)
	}
	return nil
}

func (a ArrayConfig) Panels() int {
	return a.Rows * a.Cols
}

func (a ArrayConfig) String() string {
	return fmt.Sprintf("%dx%d", a.Rows, a.Cols)
}

// ClampArray forces rows and cols into range and reports whether anything changed.
func ClampArray(rows, cols int) (ArrayConfig, bool) {
	a := ArrayConfig{Rows: clampInt(rows), Cols: clampInt(cols)}
	return a, a.Rows != rows || a.Cols != cols
}

func clampInt(v int) int {
	return min(max(v, MinArraySize), MaxArraySize)
}
