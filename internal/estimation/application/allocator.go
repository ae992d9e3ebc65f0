package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	estimation "metering-billing/internal/estimation/domain"
	"metering-billing/internal/observability/logging"
	"metering-billing/internal/observability/metrics"
	readings "metering-billing/internal/readings/domain"
	scope "metering-billing/internal/scope/domain"
)

// MeterResolver resolves the meters active in a scope at an instant.
type MeterResolver interface {
	MetersInScopeAt(ctx context.Context, ref scope.Ref, at time.Time) ([]scope.Meter, error)
}

// AllocationResult summarises one allocation run.
type AllocationResult struct {
	SyntheticRows int
	Buckets       int
	Meters        int
}

// Allocator turns scope estimates into synthetic raw readings per meter.
type Allocator struct {
	resolver         MeterResolver
	estimates        estimation.EstimateProvider
	canonical        readings.CanonicalRepository
	raw              readings.RawRepository
	sources          readings.SourceRepository
	estimatePriority int
	clock            func() time.Time
	logger           *zap.Logger
}

// AllocatorOption customises the allocator.
type AllocatorOption func(*Allocator)

// WithEstimatePriority sets the priority the estimate source is created with.
func WithEstimatePriority(priority int) AllocatorOption {
	return func(a *Allocator) {
		if priority > 0 {
			a.estimatePriority = priority
		}
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) AllocatorOption {
	return func(a *Allocator) {
		if now != nil {
			a.clock = now
		}
	}
}

// NewAllocator constructs an allocator.
func NewAllocator(
	resolver MeterResolver,
	estimates estimation.EstimateProvider,
	canonical readings.CanonicalRepository,
	raw readings.RawRepository,
	sources readings.SourceRepository,
	logger *zap.Logger,
	opts ...AllocatorOption,
) (*Allocator, error) {
	if resolver == nil {
		return nil, errors.New("allocator: nil resolver")
	}
	if estimates == nil {
		return nil, errors.New("allocator: nil estimate provider")
	}
	if canonical == nil {
		return nil, errors.New("allocator: nil canonical repo")
	}
	if raw == nil {
		return nil, errors.New("allocator: nil raw repo")
	}
	if sources == nil {
		return nil, errors.New("allocator: nil source repo")
	}
	a := &Allocator{
		resolver:         resolver,
		estimates:        estimates,
		canonical:        canonical,
		raw:              raw,
		sources:          sources,
		estimatePriority: readings.DefaultEstimatePriority,
		clock:            func() time.Time { return time.Now().UTC() },
		logger:           logging.OrNop(logger),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// runningCounter is the last synthetic counter written for a meter in this call.
type runningCounter struct {
	at       time.Time
	channels readings.Channels
}

// Allocate distributes every estimate of the scope in [start, end) over the
// meters active at its bucket and upserts synthetic raw rows.
func (a *Allocator) Allocate(ctx context.Context, ref scope.Ref, start, end time.Time, method string) (result AllocationResult, err error) {
	began := time.Now()
	defer func() {
		metrics.ObserveAllocate(metrics.Result(err), result.SyntheticRows, time.Since(began))
	}()

	if err := scope.Validate(ref); err != nil {
		return AllocationResult{}, err
	}
	if !start.Before(end) {
		return AllocationResult{}, estimation.ErrInvalidWindow
	}
	alloc, err := estimation.ParseMethod(method)
	if err != nil {
		return AllocationResult{}, err
	}
	if err := a.sources.EnsureSource(ctx, readings.DataSource{
		Code:     readings.SourceEstimateClientScope,
		Name:     "Client scope estimate",
		Priority: a.estimatePriority,
		Active:   true,
	}); err != nil {
		return AllocationResult{}, fmt.Errorf("allocate: ensure source: %w", err)
	}

	estimates, err := a.estimates.ListEstimates(ctx, ref, start.UTC(), end.UTC())
	if err != nil {
		return AllocationResult{}, fmt.Errorf("allocate: load estimates: %w", err)
	}
	sort.SliceStable(estimates, func(i, j int) bool { return estimates[i].BucketTS.Before(estimates[j].BucketTS) })

	running := make(map[string]runningCounter)
	touched := make(map[string]struct{})
	written := 0
	receivedAt := a.clock()

	for _, est := range estimates {
		bucket := est.BucketTS.UTC()
		meters, err := a.resolver.MetersInScopeAt(ctx, ref, bucket)
		if err != nil {
			return AllocationResult{}, fmt.Errorf("allocate: meters at %s: %w", bucket.Format(time.RFC3339), err)
		}
		if len(meters) == 0 {
			continue
		}
		shares, err := alloc.Shares(est.Energy, len(meters))
		if err != nil {
			return AllocationResult{}, err
		}

		rows := make([]readings.RawReading, 0, len(meters))
		for i, meter := range meters {
			baseline, err := a.baseline(ctx, meter.MeterNo, bucket, running)
			if err != nil {
				return AllocationResult{}, fmt.Errorf("allocate: baseline for %s: %w", meter.MeterNo, err)
			}
			var counters readings.Channels
			for _, ch := range shares[i].Present() {
				share, _ := shares[i].Value(ch)
				counters.SetValue(ch, baseline.ValueOrZero(ch)+share)
			}
			code := readings.EstimateQualityCode
			rows = append(rows, readings.RawReading{
				MeterNo:          meter.MeterNo,
				Timestamp:        bucket,
				BucketTS:         bucket,
				Source:           readings.SourceEstimateClientScope,
				Channels:         counters,
				Quality:          readings.QualityEstimated,
				QualityCode:      &code,
				Estimated:        true,
				EstimationMethod: est.Method(),
				ReceivedAt:       receivedAt,
			})
			running[meter.MeterNo] = runningCounter{at: bucket, channels: counters.Clone()}
			touched[meter.MeterNo] = struct{}{}
		}
		n, err := a.raw.UpsertRaw(ctx, rows)
		if err != nil {
			return AllocationResult{}, fmt.Errorf("allocate: upsert raw: %w", err)
		}
		written += n
	}

	a.logger.Info("allocated scope estimates",
		zap.String("scope", ref.String()),
		zap.Int("estimates", len(estimates)),
		zap.Int("rows", written),
	)
	return AllocationResult{SyntheticRows: written, Buckets: len(estimates), Meters: len(touched)}, nil
}

// baseline is the latest canonical reading at or before the bucket. A
// canonical row at the bucket that was itself chosen from an allocated estimate
// is skipped so re-running the same window yields the same counters. Counters
// written earlier in this call take precedence when they are newer.
func (a *Allocator) baseline(ctx context.Context, meterNo string, bucket time.Time, running map[string]runningCounter) (readings.Channels, error) {
	prev, err := a.canonical.LatestAtOrBefore(ctx, meterNo, bucket)
	if err != nil {
		return readings.Channels{}, err
	}
	if prev != nil && prev.Timestamp.Equal(bucket) && prev.ChosenSourceCode == readings.SourceEstimateClientScope {
		prev, err = a.canonical.LatestAtOrBefore(ctx, meterNo, bucket.Add(-time.Nanosecond))
		if err != nil {
			return readings.Channels{}, err
		}
	}
	if last, ok := running[meterNo]; ok && (prev == nil || last.at.After(prev.Timestamp)) {
		return last.channels, nil
	}
	if prev == nil {
		return readings.Channels{}, nil
	}
	return prev.Channels, nil
}
