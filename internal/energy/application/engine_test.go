package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metering-billing/internal/energy/application"
	energy "metering-billing/internal/energy/domain"
	readings "metering-billing/internal/readings/domain"
	"metering-billing/internal/readings/infrastructure/memory"
)

var jan1 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func canonical(meterNo string, at time.Time, activeImport float64, estimated bool) readings.CanonicalReading {
	var ch readings.Channels
	ch.SetValue(readings.ActiveImport, activeImport)
	return readings.CanonicalReading{MeterNo: meterNo, Timestamp: at, Channels: ch, Estimated: estimated}
}

func newEngine(t *testing.T, rows ...readings.CanonicalReading) *application.Engine {
	t.Helper()
	repo := memory.NewRepository()
	require.NoError(t, repo.UpsertCanonical(context.Background(), rows))
	engine, err := application.NewEngine(repo)
	require.NoError(t, err)
	return engine
}

var activeOnly = []readings.Channel{readings.ActiveImport}

func TestWindowEnergy_AdjacentWindowsPartitionSteps(t *testing.T) {
	mid := jan1.AddDate(0, 0, 15)
	end := jan1.AddDate(0, 1, 0)
	engine := newEngine(t,
		canonical("M1", jan1, 100, false),
		canonical("M1", mid, 110, false),
		canonical("M1", end, 115, false),
	)
	ctx := context.Background()

	whole, err := engine.WindowEnergy(ctx, application.Window{MeterNo: "M1", Start: jan1, End: end}, activeOnly)
	require.NoError(t, err)
	first, err := engine.WindowEnergy(ctx, application.Window{MeterNo: "M1", Start: jan1, End: mid}, activeOnly)
	require.NoError(t, err)
	second, err := engine.WindowEnergy(ctx, application.Window{MeterNo: "M1", Start: mid, End: end}, activeOnly)
	require.NoError(t, err)

	assert.Equal(t, 15.0, whole.Get(readings.ActiveImport))
	assert.Equal(t, 10.0, first.Get(readings.ActiveImport))
	assert.Equal(t, 5.0, second.Get(readings.ActiveImport))
}

func TestWindowEnergy_HandoverSeedsBaseline(t *testing.T) {
	start := jan1.AddDate(0, 1, 0)
	engine := newEngine(t, canonical("B", start.Add(time.Hour), 1012, false))
	handover := 1000.0

	result, err := engine.WindowEnergy(context.Background(), application.Window{
		MeterNo: "B", Start: start, End: start.AddDate(0, 1, 0), HandoverValue: &handover,
	}, activeOnly)
	require.NoError(t, err)
	assert.Equal(t, 12.0, result.Get(readings.ActiveImport))
}

func TestWindowEnergy_HandoverIgnoredWhenBaselineExists(t *testing.T) {
	engine := newEngine(t, canonical("B", jan1, 1005, false), canonical("B", jan1.Add(time.Hour), 1010, false))
	handover := 1000.0
	result, err := engine.WindowEnergy(context.Background(), application.Window{
		MeterNo: "B", Start: jan1, End: jan1.Add(2 * time.Hour), HandoverValue: &handover,
	}, activeOnly)
	require.NoError(t, err)
	assert.Equal(t, 5.0, result.Get(readings.ActiveImport))
}

func TestWindowEnergy_ContainsEstimated(t *testing.T) {
	engine := newEngine(t, canonical("M1", jan1, 1, false), canonical("M1", jan1.Add(time.Hour), 3, true))
	result, err := engine.WindowEnergy(context.Background(), application.Window{MeterNo: "M1", Start: jan1, End: jan1.Add(time.Hour)}, activeOnly)
	require.NoError(t, err)
	assert.True(t, result.ContainsEstimated)
}

func TestReport_DailyBuckets(t *testing.T) {
	engine := newEngine(t,
		canonical("M1", jan1, 0, false),
		canonical("M1", jan1.Add(12*time.Hour), 5, false),
		canonical("M1", jan1.Add(24*time.Hour), 8, false),
		canonical("M1", jan1.Add(36*time.Hour), 20, false),
	)
	buckets, err := engine.Report(context.Background(), "M1", jan1, jan1.Add(48*time.Hour), energy.GranularityDay, activeOnly)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, energy.TimeKey("20260101"), buckets[0].TimeKey)
	assert.Equal(t, 8.0, buckets[0].Get(readings.ActiveImport))
	assert.Equal(t, 12.0, buckets[1].Get(readings.ActiveImport))
}

func TestReport_InvalidGranularity(t *testing.T) {
	engine := newEngine(t)
	_, err := engine.Report(context.Background(), "M1", jan1, jan1.Add(time.Hour), "week", nil)
	require.ErrorIs(t, err, energy.ErrInvalidGranularity)
}
