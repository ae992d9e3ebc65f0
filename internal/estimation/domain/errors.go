package estimation

import "errors"

var (
	// ErrUnknownMethod is returned for an unsupported allocation method.
	ErrUnknownMethod = errors.New("estimation: unknown allocation method")
	// ErrInvalidWindow is returned when start is not before end.
	ErrInvalidWindow = errors.New("estimation: invalid window")
)
