package simulator

import "errors"

var ErrInvalidConfig = errors.New("invalid simulation config")
