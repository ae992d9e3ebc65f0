package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	estimation "metering-billing/internal/estimation/domain"
	scope "metering-billing/internal/scope/domain"
)

// Repository is an in-memory estimate provider for demo/testing.
type Repository struct {
	mu   sync.RWMutex
	rows []estimation.ScopeEstimate
}

// NewRepository constructs a repository.
func NewRepository() *Repository {
	return &Repository{}
}

// Add appends an estimate.
func (r *Repository) Add(est estimation.ScopeEstimate) {
	r.mu.Lock()
	r.rows = append(r.rows, est)
	r.mu.Unlock()
}

// ListEstimates returns estimates for the scope with bucket_ts in [start, end).
func (r *Repository) ListEstimates(ctx context.Context, ref scope.Ref, start, end time.Time) ([]estimation.ScopeEstimate, error) {
	_ = ctx
	if err := scope.Validate(ref); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []estimation.ScopeEstimate
	for _, est := range r.rows {
		if est.Scope == nil || est.Scope.Type() != ref.Type() || est.Scope.Key() != ref.Key() {
			continue
		}
		if est.BucketTS.Before(start) || !est.BucketTS.Before(end) {
			continue
		}
		copied := est
		copied.Energy = est.Energy.Clone()
		out = append(out, copied)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BucketTS.Before(out[j].BucketTS) })
	return out, nil
}
