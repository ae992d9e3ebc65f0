package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metering-billing/internal/readings/application"
	readings "metering-billing/internal/readings/domain"
	"metering-billing/internal/readings/infrastructure/memory"
	scope "metering-billing/internal/scope/domain"
	scopememory "metering-billing/internal/scope/infrastructure/memory"
)

var (
	t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(15 * time.Minute)
)

func qc(v int) *int { return &v }

func seedRaw(t *testing.T, repo *memory.Repository, rows ...readings.RawReading) {
	t.Helper()
	_, err := repo.UpsertRaw(context.Background(), rows)
	require.NoError(t, err)
}

func newConsolidator(t *testing.T, repo *memory.Repository, meters scope.MeterReader) *application.Consolidator {
	t.Helper()
	c, err := application.NewConsolidator(repo, repo, repo, meters, nil)
	require.NoError(t, err)
	return c
}

func TestConsolidate_PicksBestPerBucket(t *testing.T) {
	repo := memory.NewRepository(readings.DefaultSources(0)...)
	var tvCh, bucketCh, estCh readings.Channels
	tvCh.SetValue(readings.ActiveImport, 100)
	bucketCh.SetValue(readings.ActiveImport, 101)
	estCh.SetValue(readings.ActiveImport, 999)
	seedRaw(t, repo,
		readings.RawReading{MeterNo: "M1", BucketTS: t0, Timestamp: t0, Source: readings.SourceSDIProcTV, Channels: tvCh, Quality: readings.QualityGood, QualityCode: qc(95), ReceivedAt: t1},
		readings.RawReading{MeterNo: "M1", BucketTS: t0, Timestamp: t0, Source: readings.SourceSDIProcBuckets, Channels: bucketCh, Quality: readings.QualityGood, QualityCode: qc(90), ReceivedAt: t0},
		readings.RawReading{MeterNo: "M1", BucketTS: t1, Timestamp: t1, Source: readings.SourceEstimateClientScope, Channels: estCh, Quality: readings.QualityEstimated, Estimated: true, ReceivedAt: t1},
	)

	result, err := newConsolidator(t, repo, nil).Consolidate(context.Background(), t0, t0.Add(time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Written)
	assert.Equal(t, 2, result.Groups)

	first, ok := repo.Canonical("M1", t0)
	require.True(t, ok)
	assert.Equal(t, readings.SourceSDIProcBuckets, first.ChosenSourceCode)
	assert.Equal(t, 101.0, first.Channels.ValueOrZero(readings.ActiveImport))

	second, ok := repo.Canonical("M1", t1)
	require.True(t, ok)
	assert.True(t, second.Estimated)
	assert.Equal(t, readings.SourceEstimateClientScope, second.ChosenSourceCode)
}

func TestConsolidate_Idempotent(t *testing.T) {
	repo := memory.NewRepository(readings.DefaultSources(0)...)
	var ch readings.Channels
	ch.SetValue(readings.ActiveImport, 5)
	seedRaw(t, repo,
		readings.RawReading{MeterNo: "M1", BucketTS: t0, Source: readings.SourceSDIProcTV, Channels: ch, Quality: readings.QualityGood, ReceivedAt: t0},
		readings.RawReading{MeterNo: "M2", BucketTS: t0, Source: readings.SourceSDIProcTV, Channels: ch, Quality: readings.QualityGood, ReceivedAt: t0},
	)
	c := newConsolidator(t, repo, nil)
	ctx := context.Background()

	first, err := c.Consolidate(ctx, t0, t1, nil)
	require.NoError(t, err)
	before, _ := repo.Canonical("M1", t0)

	second, err := c.Consolidate(ctx, t0, t1, nil)
	require.NoError(t, err)
	after, _ := repo.Canonical("M1", t0)

	assert.Equal(t, first, second)
	assert.Equal(t, before, after)
}

func TestConsolidate_MeterFilterAndWindow(t *testing.T) {
	repo := memory.NewRepository(readings.DefaultSources(0)...)
	seedRaw(t, repo,
		readings.RawReading{MeterNo: "M1", BucketTS: t0, Source: readings.SourceSDIProcTV, Quality: readings.QualityGood},
		readings.RawReading{MeterNo: "M2", BucketTS: t0, Source: readings.SourceSDIProcTV, Quality: readings.QualityGood},
		readings.RawReading{MeterNo: "M1", BucketTS: t1, Source: readings.SourceSDIProcTV, Quality: readings.QualityGood},
	)
	result, err := newConsolidator(t, repo, nil).Consolidate(context.Background(), t0, t1, []string{"M1"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Groups)
	_, ok := repo.Canonical("M2", t0)
	assert.False(t, ok)
	_, ok = repo.Canonical("M1", t1)
	assert.False(t, ok, "end is exclusive")
}

func TestConsolidate_ConstantFallback(t *testing.T) {
	repo := memory.NewRepository(readings.DefaultSources(0)...)
	meters := scopememory.NewRepository()
	static := 2.0
	meters.AddMeter(scope.Meter{ID: 1, MeterNo: "M1", Constant: &static})
	meters.AddConstantHistory(scope.ConstantHistory{MeterID: 1, Constant: 40, ValidFrom: t0.Add(-24 * time.Hour)})
	meters.AddMeter(scope.Meter{ID: 2, MeterNo: "M2", Constant: &static})

	snapshot := 7.0
	seedRaw(t, repo,
		readings.RawReading{MeterNo: "M1", BucketTS: t0, Source: readings.SourceSDIProcTV, Quality: readings.QualityGood},
		readings.RawReading{MeterNo: "M2", BucketTS: t0, Source: readings.SourceSDIProcTV, Quality: readings.QualityGood},
		readings.RawReading{MeterNo: "M3", BucketTS: t0, Source: readings.SourceSDIProcTV, Quality: readings.QualityGood, Constant: &snapshot},
	)
	_, err := newConsolidator(t, repo, meters).Consolidate(context.Background(), t0, t1, nil)
	require.NoError(t, err)

	m1, _ := repo.Canonical("M1", t0)
	require.NotNil(t, m1.Constant)
	assert.Equal(t, 40.0, *m1.Constant, "history wins over static")
	m2, _ := repo.Canonical("M2", t0)
	require.NotNil(t, m2.Constant)
	assert.Equal(t, 2.0, *m2.Constant)
	m3, _ := repo.Canonical("M3", t0)
	require.NotNil(t, m3.Constant)
	assert.Equal(t, 7.0, *m3.Constant, "raw snapshot wins")
}

func TestConsolidate_InvalidWindow(t *testing.T) {
	repo := memory.NewRepository()
	_, err := newConsolidator(t, repo, nil).Consolidate(context.Background(), t1, t0, nil)
	require.ErrorIs(t, err, readings.ErrInvalidWindow)
}
