package billing

import "errors"

var (
	// ErrInvalidPeriod is returned when the period start is not before its end.
	ErrInvalidPeriod = errors.New("billing: invalid period")
	// ErrNoMetersInScope is returned when no meter served the unit during the period.
	ErrNoMetersInScope = errors.New("billing: no meters in scope for the requested period")
	// ErrEmptyCustomerID is returned when the customer id is empty.
	ErrEmptyCustomerID = errors.New("billing: empty customer id")
	// ErrInvalidTransition is returned for a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("billing: invalid status transition")
	// ErrInvalidTrueUp is returned when a true-up line lacks its back-link.
	ErrInvalidTrueUp = errors.New("billing: true-up line without original line")
	// ErrDocumentNotFound is returned when a document is not found.
	ErrDocumentNotFound = errors.New("billing: document not found")
	// ErrNilDocument is returned when saving a nil document.
	ErrNilDocument = errors.New("billing: nil document")
)
