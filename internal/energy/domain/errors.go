package energy

import "errors"

var (
	// ErrInvalidWindow indicates start is not before end.
	ErrInvalidWindow = errors.New("energy: invalid window")
	// ErrInvalidGranularity indicates an unsupported report granularity.
	ErrInvalidGranularity = errors.New("energy: invalid granularity")
)
