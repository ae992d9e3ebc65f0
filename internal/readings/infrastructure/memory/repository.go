package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	readings "metering-billing/internal/readings/domain"
)

type canonicalKey struct {
	meterNo string
	ts      time.Time
}

// Repository is an in-memory readings store for demo/testing.
// It implements the raw, canonical, source and batch repositories.
type Repository struct {
	mu        sync.RWMutex
	nextRawID int64
	raw       map[readings.RawKey]readings.RawReading
	canonical map[canonicalKey]readings.CanonicalReading
	sources   map[string]readings.DataSource
	batches   map[uuid.UUID]readings.IngestBatch
}

// NewRepository constructs a repository seeded with the given sources.
func NewRepository(sources ...readings.DataSource) *Repository {
	r := &Repository{
		raw:       make(map[readings.RawKey]readings.RawReading),
		canonical: make(map[canonicalKey]readings.CanonicalReading),
		sources:   make(map[string]readings.DataSource),
		batches:   make(map[uuid.UUID]readings.IngestBatch),
	}
	for _, src := range sources {
		r.sources[src.Code] = src
	}
	return r
}

// ListRaw returns raw rows with bucket_ts in [start, end).
func (r *Repository) ListRaw(ctx context.Context, start, end time.Time, meterNos []string) ([]readings.RawReading, error) {
	_ = ctx
	filter := make(map[string]struct{}, len(meterNos))
	for _, no := range meterNos {
		filter[no] = struct{}{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]readings.RawReading, 0)
	for _, row := range r.raw {
		if row.BucketTS.Before(start) || !row.BucketTS.Before(end) {
			continue
		}
		if len(filter) > 0 {
			if _, ok := filter[row.MeterNo]; !ok {
				continue
			}
		}
		out = append(out, row.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertRaw inserts or replaces rows by natural key. Replaced rows keep their id.
func (r *Repository) UpsertRaw(ctx context.Context, rows []readings.RawReading) (int, error) {
	_ = ctx
	for _, row := range rows {
		if err := row.Validate(); err != nil {
			return 0, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		key := row.Key()
		stored := row.Clone()
		stored.BucketTS = key.BucketTS
		if existing, ok := r.raw[key]; ok {
			stored.ID = existing.ID
		} else {
			r.nextRawID++
			stored.ID = r.nextRawID
		}
		r.raw[key] = stored
	}
	return len(rows), nil
}

// RawCount returns the number of stored raw rows.
func (r *Repository) RawCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.raw)
}

// UpsertCanonical inserts or replaces canonical rows keyed by (meter_no, timestamp).
func (r *Repository) UpsertCanonical(ctx context.Context, rows []readings.CanonicalReading) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		if row.MeterNo == "" {
			return readings.ErrEmptyMeterNo
		}
		stored := row.Clone()
		stored.Timestamp = row.Timestamp.UTC()
		r.canonical[canonicalKey{meterNo: row.MeterNo, ts: stored.Timestamp}] = stored
	}
	return nil
}

// LatestAtOrBefore returns the newest canonical row with timestamp <= at.
func (r *Repository) LatestAtOrBefore(ctx context.Context, meterNo string, at time.Time) (*readings.CanonicalReading, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *readings.CanonicalReading
	for key, row := range r.canonical {
		if key.meterNo != meterNo || key.ts.After(at) {
			continue
		}
		if best == nil || key.ts.After(best.Timestamp) {
			found := row.Clone()
			best = &found
		}
	}
	return best, nil
}

// ListSeries returns canonical rows with after < timestamp <= until, ascending.
func (r *Repository) ListSeries(ctx context.Context, meterNo string, afterExclusive, untilInclusive time.Time) ([]readings.CanonicalReading, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []readings.CanonicalReading
	for key, row := range r.canonical {
		if key.meterNo != meterNo {
			continue
		}
		if !key.ts.After(afterExclusive) || key.ts.After(untilInclusive) {
			continue
		}
		out = append(out, row.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Canonical returns a canonical row by key, for tests.
func (r *Repository) Canonical(meterNo string, ts time.Time) (readings.CanonicalReading, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.canonical[canonicalKey{meterNo: meterNo, ts: ts.UTC()}]
	return row, ok
}

// ListSources returns all sources.
func (r *Repository) ListSources(ctx context.Context) ([]readings.DataSource, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]readings.DataSource, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// EnsureSource inserts the source if missing.
func (r *Repository) EnsureSource(ctx context.Context, src readings.DataSource) error {
	_ = ctx
	if src.Code == "" {
		return readings.ErrEmptySource
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[src.Code]; !ok {
		r.sources[src.Code] = src
	}
	return nil
}

// CreateBatch stores a new batch.
func (r *Repository) CreateBatch(ctx context.Context, batch *readings.IngestBatch) error {
	_ = ctx
	if batch == nil {
		return errors.New("batch repo: nil batch")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[batch.ID] = *batch
	return nil
}

// FinishBatch stamps finished_at.
func (r *Repository) FinishBatch(ctx context.Context, id uuid.UUID, finishedAt time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[id]
	if !ok {
		return errors.New("batch repo: batch not found")
	}
	batch.Finish(finishedAt)
	r.batches[id] = batch
	return nil
}

// Batch returns a stored batch, for tests.
func (r *Repository) Batch(id uuid.UUID) (readings.IngestBatch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	batch, ok := r.batches[id]
	return batch, ok
}
