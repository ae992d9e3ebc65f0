package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metering-billing/internal/scope/application"
	scope "metering-billing/internal/scope/domain"
	"metering-billing/internal/scope/infrastructure/memory"
)

func day(month time.Month, d int) time.Time {
	return time.Date(2026, month, d, 0, 0, 0, 0, time.UTC)
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrFloat(v float64) *float64 { return &v }

func newResolver(t *testing.T, repo *memory.Repository) *application.Resolver {
	t.Helper()
	resolver, err := application.NewResolver(repo, repo, repo)
	require.NoError(t, err)
	return resolver
}

func TestNewResolver_NilDeps(t *testing.T) {
	repo := memory.NewRepository()
	_, err := application.NewResolver(nil, repo, nil)
	require.Error(t, err)
	_, err = application.NewResolver(repo, nil, nil)
	require.Error(t, err)
}

func TestMetersInScopeAt_HalfOpenValidity(t *testing.T) {
	repo := memory.NewRepository()
	pod := scope.Pod(7)
	repo.AddMeter(scope.Meter{ID: 1, MeterNo: "M1"})
	repo.AddMeter(scope.Meter{ID: 2, MeterNo: "M2"})
	repo.AddAssignment(scope.Assignment{Scope: pod, MeterID: 1, ValidFrom: day(1, 1), ValidTo: ptrTime(day(2, 1))})
	repo.AddAssignment(scope.Assignment{Scope: pod, MeterID: 2, ValidFrom: day(2, 1)})
	resolver := newResolver(t, repo)
	ctx := context.Background()

	meters, err := resolver.MetersInScopeAt(ctx, pod, day(1, 31))
	require.NoError(t, err)
	require.Len(t, meters, 1)
	assert.Equal(t, "M1", meters[0].MeterNo)

	meters, err = resolver.MetersInScopeAt(ctx, pod, day(2, 1))
	require.NoError(t, err)
	require.Len(t, meters, 1)
	assert.Equal(t, "M2", meters[0].MeterNo)

	meters, err = resolver.MetersInScopeAt(ctx, scope.Pod(99), day(2, 1))
	require.NoError(t, err)
	assert.Empty(t, meters)
}

func TestMetersInScopeDuring_Overlap(t *testing.T) {
	repo := memory.NewRepository()
	site := scope.Site(3)
	repo.AddMeter(scope.Meter{ID: 1, MeterNo: "M1"})
	repo.AddMeter(scope.Meter{ID: 2, MeterNo: "M2"})
	repo.AddMeter(scope.Meter{ID: 3, MeterNo: "M3"})
	// ends exactly at the window start: no overlap
	repo.AddAssignment(scope.Assignment{Scope: site, MeterID: 1, ValidFrom: day(1, 1), ValidTo: ptrTime(day(2, 1))})
	// open-ended
	repo.AddAssignment(scope.Assignment{Scope: site, MeterID: 2, ValidFrom: day(1, 15)})
	// starts exactly at the window end: no overlap
	repo.AddAssignment(scope.Assignment{Scope: site, MeterID: 3, ValidFrom: day(3, 1)})
	resolver := newResolver(t, repo)

	meters, err := resolver.MetersInScopeDuring(context.Background(), site, day(2, 1), day(3, 1))
	require.NoError(t, err)
	require.Len(t, meters, 1)
	assert.Equal(t, scope.MeterID(2), meters[0].ID)
}

func TestMetersInScopeDuring_InvalidWindow(t *testing.T) {
	resolver := newResolver(t, memory.NewRepository())
	_, err := resolver.MetersInScopeDuring(context.Background(), scope.Site(1), day(2, 1), day(2, 1))
	require.ErrorIs(t, err, scope.ErrInvalidWindow)
}

func TestResolver_NilRef(t *testing.T) {
	resolver := newResolver(t, memory.NewRepository())
	_, err := resolver.MetersInScopeAt(context.Background(), nil, day(1, 1))
	require.ErrorIs(t, err, scope.ErrUnknownScopeType)
	_, err = resolver.SegmentsDuring(context.Background(), nil, day(1, 1), day(2, 1))
	require.ErrorIs(t, err, scope.ErrUnknownScopeType)
}

func TestSegmentsDuring_ReplacementSplit(t *testing.T) {
	repo := memory.NewRepository()
	pod := scope.Pod(1)
	repo.AddMeter(scope.Meter{ID: 10, MeterNo: "A"})
	repo.AddMeter(scope.Meter{ID: 11, MeterNo: "B"})
	repo.AddAssignment(scope.Assignment{Scope: pod, MeterID: 10, ValidFrom: day(1, 1), ValidTo: ptrTime(day(3, 1))})
	repo.AddReplacement(scope.MeterReplacement{OldMeterID: 10, NewMeterID: 11, ReplacedAt: day(2, 1), HandoverValue: ptrFloat(1000)})
	resolver := newResolver(t, repo)

	segments, err := resolver.SegmentsDuring(context.Background(), pod, day(1, 1), day(3, 1))
	require.NoError(t, err)
	require.Len(t, segments, 2)

	assert.Equal(t, "A", segments[0].MeterNo)
	assert.True(t, segments[0].From.Equal(day(1, 1)))
	assert.True(t, segments[0].To.Equal(day(2, 1)))
	assert.Nil(t, segments[0].HandoverValue)

	assert.Equal(t, "B", segments[1].MeterNo)
	assert.True(t, segments[1].From.Equal(day(2, 1)))
	assert.True(t, segments[1].To.Equal(day(3, 1)))
	require.NotNil(t, segments[1].HandoverValue)
	assert.Equal(t, 1000.0, *segments[1].HandoverValue)
}

func TestSegmentsDuring_ReplacementWithOwnAssignment(t *testing.T) {
	repo := memory.NewRepository()
	pod := scope.Pod(1)
	repo.AddMeter(scope.Meter{ID: 10, MeterNo: "A"})
	repo.AddMeter(scope.Meter{ID: 11, MeterNo: "B"})
	repo.AddAssignment(scope.Assignment{Scope: pod, MeterID: 10, ValidFrom: day(1, 1)})
	repo.AddAssignment(scope.Assignment{Scope: pod, MeterID: 11, ValidFrom: day(2, 1)})
	repo.AddReplacement(scope.MeterReplacement{OldMeterID: 10, NewMeterID: 11, ReplacedAt: day(2, 1), HandoverValue: ptrFloat(5)})
	resolver := newResolver(t, repo)

	segments, err := resolver.SegmentsDuring(context.Background(), pod, day(1, 1), day(3, 1))
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, scope.MeterID(10), segments[0].MeterID)
	assert.True(t, segments[0].To.Equal(day(2, 1)))
	assert.Equal(t, scope.MeterID(11), segments[1].MeterID)
	require.NotNil(t, segments[1].HandoverValue)
	assert.Equal(t, 5.0, *segments[1].HandoverValue)
}

func TestSegmentsDuring_ReplacementChain(t *testing.T) {
	repo := memory.NewRepository()
	pod := scope.Pod(1)
	for id, no := range map[scope.MeterID]string{1: "A", 2: "B", 3: "C"} {
		repo.AddMeter(scope.Meter{ID: id, MeterNo: no})
	}
	repo.AddAssignment(scope.Assignment{Scope: pod, MeterID: 1, ValidFrom: day(1, 1)})
	repo.AddReplacement(scope.MeterReplacement{OldMeterID: 1, NewMeterID: 2, ReplacedAt: day(1, 10)})
	repo.AddReplacement(scope.MeterReplacement{OldMeterID: 2, NewMeterID: 3, ReplacedAt: day(1, 20)})
	resolver := newResolver(t, repo)

	segments, err := resolver.SegmentsDuring(context.Background(), pod, day(1, 1), day(2, 1))
	require.NoError(t, err)
	require.Len(t, segments, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{segments[0].MeterNo, segments[1].MeterNo, segments[2].MeterNo})
	for i := 1; i < len(segments); i++ {
		assert.True(t, segments[i-1].To.Equal(segments[i].From))
	}
}

func TestSegmentsDuring_ClippedToWindow(t *testing.T) {
	repo := memory.NewRepository()
	pod := scope.Pod(1)
	repo.AddMeter(scope.Meter{ID: 1, MeterNo: "A"})
	repo.AddAssignment(scope.Assignment{Scope: pod, MeterID: 1, ValidFrom: day(1, 15), ValidTo: ptrTime(day(4, 1))})
	resolver := newResolver(t, repo)

	segments, err := resolver.SegmentsDuring(context.Background(), pod, day(1, 1), day(2, 1))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.True(t, segments[0].From.Equal(day(1, 15)))
	assert.True(t, segments[0].To.Equal(day(2, 1)))
}

func TestLineage_FollowsHierarchy(t *testing.T) {
	repo := memory.NewRepository()
	odPod := scope.OdPodID(4)
	repo.AddPod(scope.PodUnit{ID: 9, Code: "IT001", SiteID: 2, OdPodID: &odPod})
	resolver := newResolver(t, repo)

	lineage, err := resolver.Lineage(context.Background(), scope.Pod(9))
	require.NoError(t, err)
	refs := lineage.Refs()
	require.Len(t, refs, 3)
	assert.Equal(t, "pod:9", refs[0].String())
	assert.Equal(t, "od_pod:4", refs[1].String())
	assert.Equal(t, "site:2", refs[2].String())
}

func TestParseRef(t *testing.T) {
	ref, err := scope.ParseRef("od_pod", 12)
	require.NoError(t, err)
	assert.Equal(t, scope.TypeOdPod, ref.Type())
	assert.Equal(t, int64(12), ref.Key())

	_, err = scope.ParseRef("region", 1)
	require.ErrorIs(t, err, scope.ErrUnknownScopeType)
}

func TestSegmentsDuring_ReplacementBeforeWindowFollowsAssignments(t *testing.T) {
	repo := memory.NewRepository()
	pod := scope.Pod(1)
	repo.AddMeter(scope.Meter{ID: 10, MeterNo: "A"})
	repo.AddMeter(scope.Meter{ID: 11, MeterNo: "B"})
	repo.AddAssignment(scope.Assignment{Scope: pod, MeterID: 10, ValidFrom: day(1, 1)})
	repo.AddReplacement(scope.MeterReplacement{OldMeterID: 10, NewMeterID: 11, ReplacedAt: day(1, 20)})
	resolver := newResolver(t, repo)

	// the replacement happened before the window and A's assignment was never closed
	segments, err := resolver.SegmentsDuring(context.Background(), pod, day(2, 1), day(3, 1))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "A", segments[0].MeterNo)

	// closing A and opening B at the handover gives B the whole window
	repo = memory.NewRepository()
	repo.AddMeter(scope.Meter{ID: 10, MeterNo: "A"})
	repo.AddMeter(scope.Meter{ID: 11, MeterNo: "B"})
	repo.AddAssignment(scope.Assignment{Scope: pod, MeterID: 10, ValidFrom: day(1, 1), ValidTo: ptrTime(day(1, 20))})
	repo.AddAssignment(scope.Assignment{Scope: pod, MeterID: 11, ValidFrom: day(1, 20)})
	repo.AddReplacement(scope.MeterReplacement{OldMeterID: 10, NewMeterID: 11, ReplacedAt: day(1, 20)})
	resolver = newResolver(t, repo)

	segments, err = resolver.SegmentsDuring(context.Background(), pod, day(2, 1), day(3, 1))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, "B", segments[0].MeterNo)
	assert.Nil(t, segments[0].HandoverValue)
}
