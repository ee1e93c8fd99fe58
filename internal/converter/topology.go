package converter

import (
	"fmt"
	"strings"
)

// Topology is an integer enum.
type Topology int

const (
	TopologyUnknown Topology = iota
	TopologyBuck
	TopologyBoost
	TopologyBuckBoost
)

func (t Topology) Valid() bool {
	return t == TopologyBuck || t == TopologyBoost || t == TopologyBuckBoost
}

func (t Topology) String() string {
	switch t {
	case TopologyBuck:
		return "buck"
	case TopologyBoost:
		return "boost"
	case TopologyBuckBoost:
		return "buckboost"
	default:
		return "unknown"
	}
}

// BaseLoadVoltage is the regulated bus voltage for a two-row array.
func (t Topology) BaseLoadVoltage() float64 {
	switch t {
	case TopologyBuck:
		return 50
	case TopologyBoost:
		return 125
	case TopologyBuckBoost:
		return 75
	default:
		return 0
	}
}

func ParseTopology(s string) (Topology, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buck":
		return TopologyBuck, nil
	case "boost":
		return TopologyBoost, nil
	case "buckboost", "buck-boost", "buck_boost":
		return TopologyBuckBoost, nil
	default:
		return TopologyUnknown, fmt.Errorf("%w: %q", ErrInvalidTopology, s)
	}
}

func (t Topology) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Topology) UnmarshalText(b []byte) error {
	v, err := ParseTopology(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
