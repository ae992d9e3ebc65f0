package scope

import "time"

// Meter is a physical meter identified by its serial number.
type Meter struct {
	ID       MeterID
	MeterNo  string
	Name     string
	Constant *float64
	SiteID   *SiteID
	OdPodID  *OdPodID
	PodID    *PodID
}

// ConstantHistory is a time-bounded scaling constant for a meter.
type ConstantHistory struct {
	MeterID   MeterID
	Constant  float64
	ValidFrom time.Time
	ValidTo   *time.Time
}

// Covers reports whether the history row applies at the instant.
func (h ConstantHistory) Covers(at time.Time) bool {
	if at.Before(h.ValidFrom) {
		return false
	}
	return h.ValidTo == nil || at.Before(*h.ValidTo)
}

// ConstantAt picks the scaling constant for a meter at the instant: the most
// recent history row covering it, else the meter's static constant.
func ConstantAt(meter Meter, history []ConstantHistory, at time.Time) *float64 {
	var best *ConstantHistory
	for i := range history {
		h := history[i]
		if h.ValidFrom.After(at) {
			continue
		}
		if best == nil || h.ValidFrom.After(best.ValidFrom) {
			best = &history[i]
		}
	}
	if best != nil && best.Covers(at) {
		value := best.Constant
		return &value
	}
	if meter.Constant == nil {
		return nil
	}
	value := *meter.Constant
	return &value
}
