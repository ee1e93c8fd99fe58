package mppt

import (
	"fmt"
	"strings"
)

// Algorithm is an integer enum.
type Algorithm int

const (
	AlgorithmUnknown Algorithm = iota
	PerturbObserve
	IncrementalConductance
)

func (a Algorithm) Valid() bool {
	return a == PerturbObserve || a == IncrementalConductance
}

func (a Algorithm) String() string {
	switch a {
	case PerturbObserve:
		return "pno"
	case IncrementalConductance:
		return "inccond"
	default:
		return "unknown"
	}
}

// Label is the operator-facing name used in status lines and event logs.
func (a Algorithm) Label() string {
	switch a {
	case PerturbObserve:
		return "P&O"
	case IncrementalConductance:
		return "INC. COND"
	default:
		return "UNKNOWN"
	}
}

func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pno", "p&o", "po", "perturb_observe":
		return PerturbObserve, nil
	case "inccond", "inc_cond", "incremental_conductance":
		return IncrementalConductance, nil
	default:
		return AlgorithmUnknown, fmt.Errorf("%w: %q", ErrInvalidAlgorithm, s)
	}
}

func (a Algorithm) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Algorithm) UnmarshalText(b []byte) error {
	v, err := ParseAlgorithm(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
