package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metering-billing/internal/readings/application"
	readings "metering-billing/internal/readings/domain"
	"metering-billing/internal/readings/infrastructure/memory"
)

type stubLoader struct {
	tv      []readings.TVRow
	buckets []readings.BucketRow
	err     error
}

func (s stubLoader) FetchTV(ctx context.Context, meterNo string, start, end time.Time) ([]readings.TVRow, error) {
	return s.tv, s.err
}

func (s stubLoader) FetchBuckets(ctx context.Context, meterNo string, start, end time.Time) ([]readings.BucketRow, error) {
	return s.buckets, s.err
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestIngestTV_MapsRows(t *testing.T) {
	repo := memory.NewRepository()
	var ch readings.Channels
	ch.SetValue(readings.ActiveImport, 10)
	quality := 70
	loader := stubLoader{tv: []readings.TVRow{
		{TV: t0.Add(7 * time.Minute), Channels: ch},
		{TV: t1.Add(time.Minute), Channels: ch, Quality: &quality, ResetMark: true},
	}}
	ingestor, err := application.NewIngestor(loader, repo, repo, repo, nil,
		application.WithBucketWidth(15*time.Minute), application.WithClock(fixedClock{now: t1}))
	require.NoError(t, err)

	result, err := ingestor.IngestTV(context.Background(), "M1", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rows)

	rows, err := repo.ListRaw(context.Background(), t0, t0.Add(time.Hour), nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].BucketTS.Equal(t0))
	assert.Equal(t, readings.SourceSDIProcTV, rows[0].Source)
	assert.Equal(t, 95, *rows[0].QualityCode)
	assert.Equal(t, 70, *rows[1].QualityCode)
	assert.True(t, rows[1].ResetDetected)

	sources, _ := repo.ListSources(context.Background())
	require.Len(t, sources, 1)
	assert.Equal(t, 80, sources[0].Priority)

	batch, ok := repo.Batch(uuid.MustParse(result.BatchID))
	require.True(t, ok)
	assert.NotNil(t, batch.FinishedAt)
}

func TestIngestBuckets_ResetLowersQuality(t *testing.T) {
	repo := memory.NewRepository()
	var ch readings.Channels
	ch.SetValue(readings.ActiveImport, 10)
	loader := stubLoader{buckets: []readings.BucketRow{
		{BucketStart: t0, BucketEnd: t1, End: ch, ResetSteps: 2},
	}}
	ingestor, err := application.NewIngestor(loader, repo, repo, repo, nil)
	require.NoError(t, err)

	_, err = ingestor.IngestBuckets(context.Background(), "M1", t0, t0.Add(time.Hour))
	require.NoError(t, err)
	rows, _ := repo.ListRaw(context.Background(), t0, t0.Add(time.Hour), nil)
	require.Len(t, rows, 1)
	assert.Equal(t, 70, *rows[0].QualityCode)
	assert.True(t, rows[0].ResetDetected)
	assert.Equal(t, readings.SourceSDIProcBuckets, rows[0].Source)
}

func TestIngest_ReingestIsIdempotent(t *testing.T) {
	repo := memory.NewRepository()
	loader := stubLoader{buckets: []readings.BucketRow{{BucketEnd: t1}}}
	ingestor, err := application.NewIngestor(loader, repo, repo, repo, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = ingestor.IngestBuckets(context.Background(), "M1", t0, t0.Add(time.Hour))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, repo.RawCount())
}

func TestIngest_LoaderErrorPropagates(t *testing.T) {
	repo := memory.NewRepository()
	boom := errors.New("mysql down")
	ingestor, err := application.NewIngestor(stubLoader{err: boom}, repo, repo, repo, nil)
	require.NoError(t, err)
	_, err = ingestor.IngestTV(context.Background(), "M1", t0, t1)
	require.ErrorIs(t, err, boom)
}

func TestNewIngestor_NilDeps(t *testing.T) {
	repo := memory.NewRepository()
	_, err := application.NewIngestor(nil, repo, repo, repo, nil)
	require.Error(t, err)
}
