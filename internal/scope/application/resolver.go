package application

import (
	"context"
	"errors"
	"sort"
	"time"

	scope "metering-billing/internal/scope/domain"
)

// Resolver answers which meters served a billing unit and when.
type Resolver struct {
	assignments scope.AssignmentReader
	meters      scope.MeterReader
	hierarchy   scope.HierarchyReader
}

// NewResolver constructs a resolver.
func NewResolver(assignments scope.AssignmentReader, meters scope.MeterReader, hierarchy scope.HierarchyReader) (*Resolver, error) {
	if assignments == nil {
		return nil, errors.New("scope resolver: nil assignment reader")
	}
	if meters == nil {
		return nil, errors.New("scope resolver: nil meter reader")
	}
	return &Resolver{assignments: assignments, meters: meters, hierarchy: hierarchy}, nil
}

// MetersInScopeAt returns meters whose assignment contains the instant.
func (r *Resolver) MetersInScopeAt(ctx context.Context, ref scope.Ref, at time.Time) ([]scope.Meter, error) {
	if err := scope.Validate(ref); err != nil {
		return nil, err
	}
	rows, err := r.assignments.ListAssignments(ctx, ref)
	if err != nil {
		return nil, err
	}
	ids := make(map[scope.MeterID]struct{})
	for _, row := range rows {
		if row.Covers(at) {
			ids[row.MeterID] = struct{}{}
		}
	}
	return r.loadMeters(ctx, ids)
}

// MetersInScopeDuring returns meters whose assignment overlaps [start, end).
func (r *Resolver) MetersInScopeDuring(ctx context.Context, ref scope.Ref, start, end time.Time) ([]scope.Meter, error) {
	if err := scope.Validate(ref); err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, scope.ErrInvalidWindow
	}
	rows, err := r.assignments.ListAssignments(ctx, ref)
	if err != nil {
		return nil, err
	}
	ids := make(map[scope.MeterID]struct{})
	for _, row := range rows {
		if row.Overlaps(start, end) {
			ids[row.MeterID] = struct{}{}
		}
	}
	return r.loadMeters(ctx, ids)
}

// SegmentsDuring returns non-overlapping meter attributions covering [start, end),
// clipped to assignment validity and split at meter replacements.
func (r *Resolver) SegmentsDuring(ctx context.Context, ref scope.Ref, start, end time.Time) ([]scope.Segment, error) {
	if err := scope.Validate(ref); err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, scope.ErrInvalidWindow
	}
	rows, err := r.assignments.ListAssignments(ctx, ref)
	if err != nil {
		return nil, err
	}

	base := make([]scope.Segment, 0, len(rows))
	for _, row := range rows {
		if !row.Overlaps(start, end) {
			continue
		}
		from := row.ValidFrom
		if start.After(from) {
			from = start
		}
		to := end
		if row.ValidTo != nil && row.ValidTo.Before(to) {
			to = *row.ValidTo
		}
		base = append(base, scope.Segment{MeterID: row.MeterID, From: from, To: to})
	}
	if len(base) == 0 {
		return nil, nil
	}

	replacements, err := r.assignments.ListReplacements(ctx, start, end)
	if err != nil {
		return nil, err
	}
	byOld := make(map[scope.MeterID][]scope.MeterReplacement)
	for _, rep := range replacements {
		byOld[rep.OldMeterID] = append(byOld[rep.OldMeterID], rep)
	}
	for id := range byOld {
		reps := byOld[id]
		sort.Slice(reps, func(i, j int) bool { return reps[i].ReplacedAt.Before(reps[j].ReplacedAt) })
	}

	var split []scope.Segment
	for _, seg := range base {
		split = append(split, splitAtReplacements(seg, byOld, 0)...)
	}
	segments := mergeOverlapping(split)

	ids := make(map[scope.MeterID]struct{}, len(segments))
	for _, seg := range segments {
		ids[seg.MeterID] = struct{}{}
	}
	meters, err := r.loadMeters(ctx, ids)
	if err != nil {
		return nil, err
	}
	numbers := make(map[scope.MeterID]string, len(meters))
	for _, m := range meters {
		numbers[m.ID] = m.MeterNo
	}
	for i := range segments {
		segments[i].MeterNo = numbers[segments[i].MeterID]
	}
	sortSegments(segments)
	return segments, nil
}

// Lineage resolves the billing-unit chain for tariff fallback. Without a
// hierarchy reader only the reference itself is returned.
func (r *Resolver) Lineage(ctx context.Context, ref scope.Ref) (scope.Lineage, error) {
	if err := scope.Validate(ref); err != nil {
		return scope.Lineage{}, err
	}
	if r.hierarchy != nil {
		return r.hierarchy.Lineage(ctx, ref)
	}
	var lineage scope.Lineage
	switch v := ref.(type) {
	case scope.PodRef:
		id := v.ID
		lineage.Pod = &id
	case scope.OdPodRef:
		id := v.ID
		lineage.OdPod = &id
	case scope.SiteRef:
		id := v.ID
		lineage.Site = &id
	}
	return lineage, nil
}

// maxReplacementDepth bounds replacement chains (A->B->C...) to guard against cycles.
const maxReplacementDepth = 32

func splitAtReplacements(seg scope.Segment, byOld map[scope.MeterID][]scope.MeterReplacement, depth int) []scope.Segment {
	if depth >= maxReplacementDepth {
		return []scope.Segment{seg}
	}
	for _, rep := range byOld[seg.MeterID] {
		if !rep.ReplacedAt.After(seg.From) || !rep.ReplacedAt.Before(seg.To) {
			continue
		}
		before := seg
		before.To = rep.ReplacedAt
		after := scope.Segment{
			MeterID:       rep.NewMeterID,
			From:          rep.ReplacedAt,
			To:            seg.To,
			HandoverValue: copyFloat(rep.HandoverValue),
		}
		return append([]scope.Segment{before}, splitAtReplacements(after, byOld, depth+1)...)
	}
	return []scope.Segment{seg}
}

// mergeOverlapping collapses per-meter overlaps that appear when a replacement
// and the new meter's own assignment both cover the handover window.
func mergeOverlapping(segments []scope.Segment) []scope.Segment {
	byMeter := make(map[scope.MeterID][]scope.Segment)
	for _, seg := range segments {
		byMeter[seg.MeterID] = append(byMeter[seg.MeterID], seg)
	}
	out := make([]scope.Segment, 0, len(segments))
	for _, list := range byMeter {
		sortSegments(list)
		current := list[0]
		for _, next := range list[1:] {
			if next.From.Before(current.To) {
				if next.To.After(current.To) {
					current.To = next.To
				}
				if current.HandoverValue == nil && next.From.Equal(current.From) {
					current.HandoverValue = next.HandoverValue
				}
				continue
			}
			out = append(out, current)
			current = next
		}
		out = append(out, current)
	}
	return out
}

func sortSegments(segments []scope.Segment) {
	sort.SliceStable(segments, func(i, j int) bool {
		if !segments[i].From.Equal(segments[j].From) {
			return segments[i].From.Before(segments[j].From)
		}
		return segments[i].MeterID < segments[j].MeterID
	})
}

func (r *Resolver) loadMeters(ctx context.Context, ids map[scope.MeterID]struct{}) ([]scope.Meter, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	list := make([]scope.MeterID, 0, len(ids))
	for id := range ids {
		list = append(list, id)
	}
	sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
	meters, err := r.meters.GetMeters(ctx, list)
	if err != nil {
		return nil, err
	}
	sort.Slice(meters, func(i, j int) bool { return meters[i].ID < meters[j].ID })
	return meters, nil
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	value := *v
	return &value
}
