package readings

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RawRepository persists raw readings.
type RawRepository interface {
	// ListRaw returns rows with bucket_ts in [start, end), optionally filtered by meter.
	ListRaw(ctx context.Context, start, end time.Time, meterNos []string) ([]RawReading, error)
	// UpsertRaw inserts or replaces rows by natural key and returns the count written.
	UpsertRaw(ctx context.Context, rows []RawReading) (int, error)
}

// CanonicalRepository persists canonical readings.
type CanonicalRepository interface {
	UpsertCanonical(ctx context.Context, rows []CanonicalReading) error
	// LatestAtOrBefore returns the newest canonical row with timestamp <= at, or nil.
	LatestAtOrBefore(ctx context.Context, meterNo string, at time.Time) (*CanonicalReading, error)
	// ListSeries returns rows with afterExclusive < timestamp <= untilInclusive, ascending.
	ListSeries(ctx context.Context, meterNo string, afterExclusive, untilInclusive time.Time) ([]CanonicalReading, error)
}

// SourceRepository loads and seeds data sources.
type SourceRepository interface {
	ListSources(ctx context.Context) ([]DataSource, error)
	EnsureSource(ctx context.Context, src DataSource) error
}

// BatchRepository records ingestion batches.
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch *IngestBatch) error
	FinishBatch(ctx context.Context, id uuid.UUID, finishedAt time.Time) error
}
