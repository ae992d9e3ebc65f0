package readings

import "time"

// CanonicalReading is the reconciled reading of a meter at a bucket.
type CanonicalReading struct {
	MeterNo          string
	Timestamp        time.Time
	Channels         Channels
	Constant         *float64
	ChosenRawID      int64
	ChosenSourceCode string
	Quality          Quality
	Estimated        bool
	Interpolated     bool
	ResetDetected    bool
	EstimationMethod string
}

// CanonicalFromRaw builds the canonical row for a winning raw reading.
func CanonicalFromRaw(raw RawReading, constant *float64) CanonicalReading {
	var c *float64
	if constant != nil {
		v := *constant
		c = &v
	}
	return CanonicalReading{
		MeterNo:          raw.MeterNo,
		Timestamp:        raw.BucketTS.UTC(),
		Channels:         raw.Channels.Clone(),
		Constant:         c,
		ChosenRawID:      raw.ID,
		ChosenSourceCode: raw.Source,
		Quality:          raw.Quality,
		Estimated:        raw.Estimated,
		Interpolated:     raw.Interpolated,
		ResetDetected:    raw.ResetDetected,
		EstimationMethod: raw.EstimationMethod,
	}
}

// IsSynthetic reports whether the value did not come from a real measurement.
func (c CanonicalReading) IsSynthetic() bool {
	return c.Estimated || c.Interpolated
}

// Clone returns a deep copy.
func (c CanonicalReading) Clone() CanonicalReading {
	out := c
	out.Channels = c.Channels.Clone()
	if c.Constant != nil {
		v := *c.Constant
		out.Constant = &v
	}
	return out
}
