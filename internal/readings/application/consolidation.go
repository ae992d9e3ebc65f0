package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"metering-billing/internal/observability/logging"
	"metering-billing/internal/observability/metrics"
	readings "metering-billing/internal/readings/domain"
	scope "metering-billing/internal/scope/domain"
)

// ConsolidationResult summarises one consolidation run.
type ConsolidationResult struct {
	Written int
	Groups  int
}

// Consolidator reconciles raw readings into canonical readings.
type Consolidator struct {
	raw       readings.RawRepository
	canonical readings.CanonicalRepository
	sources   readings.SourceRepository
	meters    scope.MeterReader
	logger    *zap.Logger
}

// NewConsolidator constructs a consolidator. meters may be nil, in which case
// only constants carried on raw rows are used.
func NewConsolidator(
	raw readings.RawRepository,
	canonical readings.CanonicalRepository,
	sources readings.SourceRepository,
	meters scope.MeterReader,
	logger *zap.Logger,
) (*Consolidator, error) {
	if raw == nil {
		return nil, errors.New("consolidator: nil raw repo")
	}
	if canonical == nil {
		return nil, errors.New("consolidator: nil canonical repo")
	}
	if sources == nil {
		return nil, errors.New("consolidator: nil source repo")
	}
	return &Consolidator{
		raw:       raw,
		canonical: canonical,
		sources:   sources,
		meters:    meters,
		logger:    logging.OrNop(logger),
	}, nil
}

// Consolidate picks the best raw reading per (meter_no, bucket_ts) in
// [start, end) and upserts it as canonical. Re-running is idempotent.
func (c *Consolidator) Consolidate(ctx context.Context, start, end time.Time, meterNos []string) (result ConsolidationResult, err error) {
	began := time.Now()
	defer func() {
		metrics.ObserveConsolidate(metrics.Result(err), result.Written, time.Since(began))
	}()

	if !start.Before(end) {
		return ConsolidationResult{}, readings.ErrInvalidWindow
	}
	sources, err := c.sources.ListSources(ctx)
	if err != nil {
		return ConsolidationResult{}, fmt.Errorf("consolidate: load sources: %w", err)
	}
	registry := readings.NewRegistry(sources)

	rows, err := c.raw.ListRaw(ctx, start.UTC(), end.UTC(), meterNos)
	if err != nil {
		return ConsolidationResult{}, fmt.Errorf("consolidate: load raw: %w", err)
	}
	groups := readings.GroupByBucket(rows)
	if len(groups) == 0 {
		return ConsolidationResult{}, nil
	}

	constants := newConstantCache(c.meters)
	canonical := make([]readings.CanonicalReading, 0, len(groups))
	for _, group := range groups {
		best, ok := readings.ChooseBest(group.Candidates, registry)
		if !ok {
			continue
		}
		constant := best.Constant
		if constant == nil {
			constant, err = constants.at(ctx, best.MeterNo, group.Key.BucketTS)
			if err != nil {
				return ConsolidationResult{}, fmt.Errorf("consolidate: constant for %s: %w", best.MeterNo, err)
			}
		}
		canonical = append(canonical, readings.CanonicalFromRaw(best, constant))
	}

	if err := c.canonical.UpsertCanonical(ctx, canonical); err != nil {
		return ConsolidationResult{}, fmt.Errorf("consolidate: upsert canonical: %w", err)
	}
	c.logger.Debug("consolidated window",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("groups", len(groups)),
		zap.Int("written", len(canonical)),
	)
	return ConsolidationResult{Written: len(canonical), Groups: len(groups)}, nil
}

type meterConstants struct {
	meter   *scope.Meter
	history []scope.ConstantHistory
}

// constantCache memoises meter constants for the duration of one call.
type constantCache struct {
	meters scope.MeterReader
	byNo   map[string]*meterConstants
}

func newConstantCache(meters scope.MeterReader) *constantCache {
	return &constantCache{meters: meters, byNo: make(map[string]*meterConstants)}
}

func (c *constantCache) at(ctx context.Context, meterNo string, at time.Time) (*float64, error) {
	if c.meters == nil {
		return nil, nil
	}
	entry, ok := c.byNo[meterNo]
	if !ok {
		meter, err := c.meters.GetMeterByNo(ctx, meterNo)
		if err != nil {
			return nil, err
		}
		entry = &meterConstants{meter: meter}
		if meter != nil {
			entry.history, err = c.meters.ListConstantHistory(ctx, meter.ID)
			if err != nil {
				return nil, err
			}
		}
		c.byNo[meterNo] = entry
	}
	if entry.meter == nil {
		return nil, nil
	}
	return scope.ConstantAt(*entry.meter, entry.history, at), nil
}
