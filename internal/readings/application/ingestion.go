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
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// IngestResult summarises one ingestion call.
type IngestResult struct {
	BatchID string
	Rows    int
}

// Ingestor pulls source rows through a loader and stores them as raw readings.
type Ingestor struct {
	loader      readings.RowLoader
	raw         readings.RawRepository
	sources     readings.SourceRepository
	batches     readings.BatchRepository
	bucketWidth time.Duration
	clock       Clock
	logger      *zap.Logger
}

// IngestorOption customises the ingestor.
type IngestorOption func(*Ingestor)

// WithBucketWidth sets the bucket width raw timestamps are floored to.
func WithBucketWidth(width time.Duration) IngestorOption {
	return func(i *Ingestor) {
		i.bucketWidth = width
	}
}

// WithClock overrides the clock.
func WithClock(clock Clock) IngestorOption {
	return func(i *Ingestor) {
		if clock != nil {
			i.clock = clock
		}
	}
}

// NewIngestor constructs an ingestor.
func NewIngestor(
	loader readings.RowLoader,
	raw readings.RawRepository,
	sources readings.SourceRepository,
	batches readings.BatchRepository,
	logger *zap.Logger,
	opts ...IngestorOption,
) (*Ingestor, error) {
	if loader == nil {
		return nil, errors.New("ingestor: nil loader")
	}
	if raw == nil {
		return nil, errors.New("ingestor: nil raw repo")
	}
	if sources == nil {
		return nil, errors.New("ingestor: nil source repo")
	}
	if batches == nil {
		return nil, errors.New("ingestor: nil batch repo")
	}
	i := &Ingestor{
		loader:  loader,
		raw:     raw,
		sources: sources,
		batches: batches,
		clock:   systemClock{},
		logger:  logging.OrNop(logger),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i, nil
}

// IngestTV loads per-timestamp counter snapshots for a meter.
func (i *Ingestor) IngestTV(ctx context.Context, meterNo string, start, end time.Time) (IngestResult, error) {
	return i.run(ctx, readings.SourceSDIProcTV, 80, meterNo, start, end, func(batch *readings.IngestBatch, receivedAt time.Time) ([]readings.RawReading, error) {
		rows, err := i.loader.FetchTV(ctx, meterNo, start, end)
		if err != nil {
			return nil, err
		}
		out := make([]readings.RawReading, 0, len(rows))
		for _, row := range rows {
			if row.TV.IsZero() {
				continue
			}
			code := readings.DefaultTVQualityCode
			if row.Quality != nil {
				code = *row.Quality
			}
			ts := row.TV.UTC()
			out = append(out, readings.RawReading{
				MeterNo:       meterNo,
				Timestamp:     ts,
				BucketTS:      readings.FloorToBucket(ts, i.bucketWidth),
				Source:        readings.SourceSDIProcTV,
				Channels:      row.Channels.Clone(),
				Constant:      row.Constant,
				Quality:       readings.QualityGood,
				QualityCode:   &code,
				ResetDetected: row.ResetMark,
				ReceivedAt:    receivedAt,
				BatchID:       &batch.ID,
			})
		}
		return out, nil
	})
}

// IngestBuckets loads bucket-end counter snapshots for a meter.
func (i *Ingestor) IngestBuckets(ctx context.Context, meterNo string, start, end time.Time) (IngestResult, error) {
	return i.run(ctx, readings.SourceSDIProcBuckets, 70, meterNo, start, end, func(batch *readings.IngestBatch, receivedAt time.Time) ([]readings.RawReading, error) {
		rows, err := i.loader.FetchBuckets(ctx, meterNo, start, end)
		if err != nil {
			return nil, err
		}
		out := make([]readings.RawReading, 0, len(rows))
		for _, row := range rows {
			if row.BucketEnd.IsZero() {
				continue
			}
			code := readings.BucketQualityCode(row.ResetSteps)
			ts := row.BucketEnd.UTC()
			out = append(out, readings.RawReading{
				MeterNo:       meterNo,
				Timestamp:     ts,
				BucketTS:      readings.FloorToBucket(ts, i.bucketWidth),
				Source:        readings.SourceSDIProcBuckets,
				Channels:      row.End.Clone(),
				Constant:      row.Constant,
				Quality:       readings.QualityGood,
				QualityCode:   &code,
				ResetDetected: row.ResetSteps > 0,
				ReceivedAt:    receivedAt,
				BatchID:       &batch.ID,
			})
		}
		return out, nil
	})
}

type rowBuilder func(batch *readings.IngestBatch, receivedAt time.Time) ([]readings.RawReading, error)

func (i *Ingestor) run(ctx context.Context, source string, priority int, meterNo string, start, end time.Time, build rowBuilder) (result IngestResult, err error) {
	began := time.Now()
	defer func() {
		metrics.ObserveIngest(source, metrics.Result(err), result.Rows, time.Since(began))
	}()

	if meterNo == "" {
		return IngestResult{}, readings.ErrEmptyMeterNo
	}
	if !start.Before(end) {
		return IngestResult{}, readings.ErrInvalidWindow
	}
	if err := i.ensureSource(ctx, source, priority); err != nil {
		return IngestResult{}, err
	}

	now := i.clock.Now()
	batch := readings.NewIngestBatch(source, fmt.Sprintf("%s:%s:%s", meterNo, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339)), "", now)
	if err := i.batches.CreateBatch(ctx, batch); err != nil {
		return IngestResult{}, fmt.Errorf("ingest: create batch: %w", err)
	}

	rows, err := build(batch, now)
	if err != nil {
		i.logger.Warn("ingest loader failed",
			zap.String("source", source),
			zap.String("meter_no", meterNo),
			zap.Error(err),
		)
		return IngestResult{BatchID: batch.ID.String()}, fmt.Errorf("ingest %s: %w", source, err)
	}
	written := 0
	if len(rows) > 0 {
		written, err = i.raw.UpsertRaw(ctx, rows)
		if err != nil {
			return IngestResult{BatchID: batch.ID.String()}, fmt.Errorf("ingest: upsert raw: %w", err)
		}
	}
	if err := i.batches.FinishBatch(ctx, batch.ID, i.clock.Now()); err != nil {
		return IngestResult{BatchID: batch.ID.String(), Rows: written}, fmt.Errorf("ingest: finish batch: %w", err)
	}
	return IngestResult{BatchID: batch.ID.String(), Rows: written}, nil
}

func (i *Ingestor) ensureSource(ctx context.Context, code string, priority int) error {
	existing, err := i.sources.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("ingest: load sources: %w", err)
	}
	if _, ok := readings.NewRegistry(existing).Get(code); ok {
		return nil
	}
	return i.sources.EnsureSource(ctx, readings.DataSource{Code: code, Name: code, Priority: priority, Active: true})
}
