package environment

import "errors"

var (
	ErrInvalidSunPosition = errors.New("sun position must be within [0,100]")
	ErrInvalidDayCycle    = errors.New("invalid day cycle params")
)
