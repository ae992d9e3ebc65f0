package estimation

import (
	"context"
	"fmt"
	"time"

	readings "metering-billing/internal/readings/domain"
	scope "metering-billing/internal/scope/domain"
)

// DefaultEstimationMethod is stamped on synthetic rows when the estimate has none.
const DefaultEstimationMethod = "scope_alloc_v1"

// ScopeEstimate is an externally provided energy estimate for a billing unit
// and bucket. Energies are per-bucket increments, not counters.
type ScopeEstimate struct {
	Scope            scope.Ref
	BucketTS         time.Time
	Energy           readings.Channels
	EstimationMethod string
}

// Method returns the stamped estimation method.
func (e ScopeEstimate) Method() string {
	if e.EstimationMethod == "" {
		return DefaultEstimationMethod
	}
	return e.EstimationMethod
}

// Method names an allocation strategy.
type Method string

const (
	// MethodEqualSplit divides every channel evenly across active meters.
	MethodEqualSplit Method = "equal_split"
)

// ParseMethod validates an allocation method. Empty means equal_split.
func ParseMethod(value string) (Method, error) {
	if value == "" {
		return MethodEqualSplit, nil
	}
	switch Method(value) {
	case MethodEqualSplit:
		return MethodEqualSplit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, value)
	}
}

// Shares splits the estimate energy across meterCount meters.
func (m Method) Shares(energy readings.Channels, meterCount int) ([]readings.Channels, error) {
	if meterCount <= 0 {
		return nil, nil
	}
	switch m {
	case MethodEqualSplit:
		share := readings.Channels{}
		for _, ch := range energy.Present() {
			v, _ := energy.Value(ch)
			share.SetValue(ch, v/float64(meterCount))
		}
		out := make([]readings.Channels, meterCount)
		for i := range out {
			out[i] = share.Clone()
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, string(m))
	}
}

// EstimateProvider supplies scope estimates.
type EstimateProvider interface {
	// ListEstimates returns estimates with bucket_ts in [start, end), ordered by bucket.
	ListEstimates(ctx context.Context, ref scope.Ref, start, end time.Time) ([]ScopeEstimate, error)
}
