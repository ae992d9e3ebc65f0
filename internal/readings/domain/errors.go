package readings

import "errors"

var (
	// ErrEmptyMeterNo indicates a missing meter number.
	ErrEmptyMeterNo = errors.New("readings: empty meter number")
	// ErrEmptySource indicates a missing source code.
	ErrEmptySource = errors.New("readings: empty source")
	// ErrZeroTimestamp indicates a missing bucket timestamp.
	ErrZeroTimestamp = errors.New("readings: zero timestamp")
	// ErrInvalidWindow indicates start is not before end.
	ErrInvalidWindow = errors.New("readings: invalid window")
	// ErrUnknownChannel indicates an unrecognised channel name.
	ErrUnknownChannel = errors.New("readings: unknown channel")
	// ErrUnknownSource indicates a source code missing from the registry.
	ErrUnknownSource = errors.New("readings: unknown source")
)
