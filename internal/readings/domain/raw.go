package readings

import (
	"time"

	"github.com/google/uuid"
)

// RawKey is the natural key of a raw reading.
type RawKey struct {
	MeterNo  string
	BucketTS time.Time
	Source   string
}

// RawReading is one source's observation of a meter at a bucket.
type RawReading struct {
	ID               int64
	MeterNo          string
	Timestamp        time.Time
	BucketTS         time.Time
	Source           string
	Channels         Channels
	Constant         *float64
	Quality          Quality
	QualityCode      *int
	Estimated        bool
	Interpolated     bool
	ResetDetected    bool
	Duplicate        bool
	EstimationMethod string
	ReceivedAt       time.Time
	BatchID          *uuid.UUID
}

// Key returns the natural key.
func (r RawReading) Key() RawKey {
	return RawKey{MeterNo: r.MeterNo, BucketTS: r.BucketTS.UTC(), Source: r.Source}
}

// Validate checks the fields needed to store the row.
func (r RawReading) Validate() error {
	if r.MeterNo == "" {
		return ErrEmptyMeterNo
	}
	if r.Source == "" {
		return ErrEmptySource
	}
	if r.BucketTS.IsZero() {
		return ErrZeroTimestamp
	}
	return nil
}

// Clone returns a deep copy.
func (r RawReading) Clone() RawReading {
	out := r
	out.Channels = r.Channels.Clone()
	if r.Constant != nil {
		v := *r.Constant
		out.Constant = &v
	}
	if r.QualityCode != nil {
		v := *r.QualityCode
		out.QualityCode = &v
	}
	if r.BatchID != nil {
		v := *r.BatchID
		out.BatchID = &v
	}
	return out
}
