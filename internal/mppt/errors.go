package mppt

import "errors"

var (
	ErrInvalidAlgorithm = errors.New("invalid mppt algorithm")
	ErrInvalidParams    = errors.New("invalid mppt params")
)
