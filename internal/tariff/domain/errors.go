package tariff

import "errors"

var (
	// ErrNoOperatorPrice is returned when no price can be derived for a tariff.
	ErrNoOperatorPrice = errors.New("tariff: no operator price available")
	// ErrTariffNotFound is returned when an assignment references a missing tariff.
	ErrTariffNotFound = errors.New("tariff: tariff not found")
	// ErrInvalidWindow indicates start is not before end.
	ErrInvalidWindow = errors.New("tariff: invalid window")
	// ErrInvalidRow is returned by importers for malformed rows.
	ErrInvalidRow = errors.New("tariff: invalid row")
)
