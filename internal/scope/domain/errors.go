package scope

import "errors"

var (
	// ErrUnknownScopeType is returned for a nil or unrecognised scope reference.
	ErrUnknownScopeType = errors.New("scope: unknown scope type")
	// ErrInvalidWindow is returned when start is not before end.
	ErrInvalidWindow = errors.New("scope: invalid window")
	// ErrMeterNotFound is returned when a meter lookup misses.
	ErrMeterNotFound = errors.New("scope: meter not found")
	// ErrUnitNotFound is returned when a billing unit lookup misses.
	ErrUnitNotFound = errors.New("scope: unit not found")
)
