package readings

import (
	"context"
	"time"
)

// TVRow is a per-timestamp counter snapshot from the TV procedure.
type TVRow struct {
	TV        time.Time
	Channels  Channels
	Constant  *float64
	Quality   *int
	ResetMark bool
}

// BucketRow is a bucket-end counter snapshot from the segments procedure.
type BucketRow struct {
	BucketStart time.Time
	BucketEnd   time.Time
	End         Channels
	ResetSteps  int
	Constant    *float64
}

// RowLoader fetches source rows for one meter and window.
type RowLoader interface {
	FetchTV(ctx context.Context, meterNo string, start, end time.Time) ([]TVRow, error)
	FetchBuckets(ctx context.Context, meterNo string, start, end time.Time) ([]BucketRow, error)
}

const (
	// DefaultTVQualityCode applies when the TV row carries no quality.
	DefaultTVQualityCode = 95
	bucketQualityBase    = 90
	bucketQualityFloor   = 10
	// EstimateQualityCode is stamped on allocated estimates.
	EstimateQualityCode = 50
)

// BucketQualityCode lowers confidence by ten per counter reset, floored at ten.
func BucketQualityCode(resetSteps int) int {
	code := bucketQualityBase - 10*resetSteps
	if code < bucketQualityFloor {
		return bucketQualityFloor
	}
	return code
}
