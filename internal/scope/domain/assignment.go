package scope

import "time"

// Assignment binds a meter to a billing unit for a validity window.
// ValidTo nil means the assignment is still active.
type Assignment struct {
	Scope     Ref
	MeterID   MeterID
	ValidFrom time.Time
	ValidTo   *time.Time
}

// Covers reports whether the assignment is active at the instant.
func (a Assignment) Covers(at time.Time) bool {
	if at.Before(a.ValidFrom) {
		return false
	}
	return a.ValidTo == nil || at.Before(*a.ValidTo)
}

// Overlaps reports half-open overlap with [start, end).
func (a Assignment) Overlaps(start, end time.Time) bool {
	return Overlaps(a.ValidFrom, a.ValidTo, start, &end)
}

// Overlaps is half-open interval overlap with nil ends treated as +inf.
func Overlaps(aStart time.Time, aEnd *time.Time, bStart time.Time, bEnd *time.Time) bool {
	if aEnd != nil && !bStart.Before(*aEnd) {
		return false
	}
	if bEnd != nil && !aStart.Before(*bEnd) {
		return false
	}
	return true
}

// MeterReplacement records one meter physically replacing another.
type MeterReplacement struct {
	OldMeterID    MeterID
	NewMeterID    MeterID
	ReplacedAt    time.Time
	HandoverValue *float64
}

// Segment is a meter attribution for a sub-window of a scope.
type Segment struct {
	MeterID       MeterID
	MeterNo       string
	From          time.Time
	To            time.Time
	HandoverValue *float64
}

// Clip returns the intersection of the segment with [start, end).
func (s Segment) Clip(start, end time.Time) (Segment, bool) {
	from := s.From
	if start.After(from) {
		from = start
	}
	to := s.To
	if end.Before(to) {
		to = end
	}
	if !from.Before(to) {
		return Segment{}, false
	}
	clipped := s
	clipped.From = from
	clipped.To = to
	if !from.Equal(s.From) {
		clipped.HandoverValue = nil
	}
	return clipped, true
}
