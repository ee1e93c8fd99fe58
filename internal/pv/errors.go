package pv

import "errors"

var (
	ErrMissingField               = errors.New("missing required panel field")
	ErrNonFiniteValue             = errors.New("panel ratings must be finite numbers")
	ErrNonPositiveValue           = errors.New("panel ratings must be strictly positive")
	ErrVocNotAboveVmp             = errors.New("physics error: Voc must be greater than Vmp")
	ErrIscTooLow                  = errors.New("physics error: Isc must be greater than Pmax/Vmp")
	ErrPmaxExceedsTheoretical     = errors.New("impossible physics: Pmax must be below Voc x Isc")
	ErrPositiveVoltageCoefficient = errors.New("unusual parameter: voltage temperature coefficient must not be positive")
	ErrFillFactorTooLow           = errors.New("inefficient design: fill factor below 50%")
	ErrValueLimit                 = errors.New("value limit: Voc above 400V or Isc above 50A")
	ErrUnknownPanel               = errors.New("unknown panel")
	ErrDuplicatePanel             = errors.New("duplicate panel name")

	ErrArrayOutOfRange = errors.New("array rows and cols must be within [1,20]")

	ErrInvalidIrradiance  = errors.New("invalid irradiance")
	ErrInvalidTemperature = errors.New("invalid temperature")
)
