package converter

import "errors"

var ErrInvalidTopology = errors.New("invalid converter topology")
