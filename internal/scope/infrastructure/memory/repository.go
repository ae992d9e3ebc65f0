package memory

import (
	"context"
	"sync"
	"time"

	scope "metering-billing/internal/scope/domain"
)

// Repository is an in-memory scope store for demo/testing.
// It implements the assignment, meter and hierarchy readers.
type Repository struct {
	mu           sync.RWMutex
	meters       map[scope.MeterID]scope.Meter
	history      map[scope.MeterID][]scope.ConstantHistory
	assignments  []scope.Assignment
	replacements []scope.MeterReplacement
	pods         map[scope.PodID]scope.PodUnit
	odPods       map[scope.OdPodID]scope.OdPodUnit
}

// NewRepository constructs a repository.
func NewRepository() *Repository {
	return &Repository{
		meters:  make(map[scope.MeterID]scope.Meter),
		history: make(map[scope.MeterID][]scope.ConstantHistory),
		pods:    make(map[scope.PodID]scope.PodUnit),
		odPods:  make(map[scope.OdPodID]scope.OdPodUnit),
	}
}

// AddMeter stores a meter (overwrites existing).
func (r *Repository) AddMeter(meter scope.Meter) {
	r.mu.Lock()
	r.meters[meter.ID] = meter
	r.mu.Unlock()
}

// AddConstantHistory appends a constant history row.
func (r *Repository) AddConstantHistory(row scope.ConstantHistory) {
	r.mu.Lock()
	r.history[row.MeterID] = append(r.history[row.MeterID], row)
	r.mu.Unlock()
}

// UpsertConstantHistory replaces the row keyed by (meter, valid_from) or appends it.
func (r *Repository) UpsertConstantHistory(ctx context.Context, row scope.ConstantHistory) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.history[row.MeterID]
	for i := range rows {
		if rows[i].ValidFrom.Equal(row.ValidFrom) {
			rows[i] = row
			return nil
		}
	}
	r.history[row.MeterID] = append(rows, row)
	return nil
}

// AddAssignment appends a meter assignment.
func (r *Repository) AddAssignment(row scope.Assignment) {
	r.mu.Lock()
	r.assignments = append(r.assignments, row)
	r.mu.Unlock()
}

// AddReplacement appends a meter replacement event.
func (r *Repository) AddReplacement(row scope.MeterReplacement) {
	r.mu.Lock()
	r.replacements = append(r.replacements, row)
	r.mu.Unlock()
}

// AddPod stores a POD unit.
func (r *Repository) AddPod(unit scope.PodUnit) {
	r.mu.Lock()
	r.pods[unit.ID] = unit
	r.mu.Unlock()
}

// AddOdPod stores a distribution POD unit.
func (r *Repository) AddOdPod(unit scope.OdPodUnit) {
	r.mu.Lock()
	r.odPods[unit.ID] = unit
	r.mu.Unlock()
}

// ListAssignments returns all assignments for the scope.
func (r *Repository) ListAssignments(ctx context.Context, ref scope.Ref) ([]scope.Assignment, error) {
	_ = ctx
	if err := scope.Validate(ref); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []scope.Assignment
	for _, row := range r.assignments {
		if row.Scope == nil {
			continue
		}
		if row.Scope.Type() == ref.Type() && row.Scope.Key() == ref.Key() {
			out = append(out, row)
		}
	}
	return out, nil
}

// ListReplacements returns replacements with ReplacedAt in [start, end).
func (r *Repository) ListReplacements(ctx context.Context, start, end time.Time) ([]scope.MeterReplacement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []scope.MeterReplacement
	for _, row := range r.replacements {
		if row.ReplacedAt.Before(start) || !row.ReplacedAt.Before(end) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// GetMeters returns the meters found for the ids; unknown ids are skipped.
func (r *Repository) GetMeters(ctx context.Context, ids []scope.MeterID) ([]scope.Meter, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]scope.Meter, 0, len(ids))
	for _, id := range ids {
		if meter, ok := r.meters[id]; ok {
			out = append(out, meter)
		}
	}
	return out, nil
}

// GetMeterByNo returns a meter by serial number, or nil when unknown.
func (r *Repository) GetMeterByNo(ctx context.Context, meterNo string) (*scope.Meter, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, meter := range r.meters {
		if meter.MeterNo == meterNo {
			found := meter
			return &found, nil
		}
	}
	return nil, nil
}

// ListConstantHistory returns constant history rows for a meter.
func (r *Repository) ListConstantHistory(ctx context.Context, meterID scope.MeterID) ([]scope.ConstantHistory, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := r.history[meterID]
	out := make([]scope.ConstantHistory, len(rows))
	copy(out, rows)
	return out, nil
}

// Lineage resolves pod -> od_pod -> site using the stored units.
func (r *Repository) Lineage(ctx context.Context, ref scope.Ref) (scope.Lineage, error) {
	_ = ctx
	if err := scope.Validate(ref); err != nil {
		return scope.Lineage{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var lineage scope.Lineage
	switch v := ref.(type) {
	case scope.PodRef:
		id := v.ID
		lineage.Pod = &id
		if unit, ok := r.pods[id]; ok {
			site := unit.SiteID
			lineage.Site = &site
			if unit.OdPodID != nil {
				odPod := *unit.OdPodID
				lineage.OdPod = &odPod
			}
		}
	case scope.OdPodRef:
		id := v.ID
		lineage.OdPod = &id
		if unit, ok := r.odPods[id]; ok {
			site := unit.SiteID
			lineage.Site = &site
		}
	case scope.SiteRef:
		id := v.ID
		lineage.Site = &id
	}
	return lineage, nil
}
