package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	estimation "metering-billing/internal/estimation/domain"
	readings "metering-billing/internal/readings/domain"
	scope "metering-billing/internal/scope/domain"
)

// Repository reads scope estimates. The core never writes them.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ListEstimates returns estimates for the scope with bucket_ts in [start, end).
func (r *Repository) ListEstimates(ctx context.Context, ref scope.Ref, start, end time.Time) ([]estimation.ScopeEstimate, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("estimate repo: nil db")
	}
	if err := scope.Validate(ref); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT bucket_ts, ea_plus, ea_minus, er_plus, er_minus, rq1, rq2, rq3, rq4, estimation_method
FROM scope_estimates
WHERE scope_type = $1 AND scope_id = $2 AND bucket_ts >= $3 AND bucket_ts < $4
ORDER BY bucket_ts ASC`, string(ref.Type()), ref.Key(), start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []estimation.ScopeEstimate
	for rows.Next() {
		var (
			bucket                         time.Time
			eaPlus, eaMinus, erPlus, erMin sql.NullFloat64
			q1, q2, q3, q4                 sql.NullFloat64
			method                         sql.NullString
		)
		if err := rows.Scan(&bucket, &eaPlus, &eaMinus, &erPlus, &erMin, &q1, &q2, &q3, &q4, &method); err != nil {
			return nil, err
		}
		result = append(result, estimation.ScopeEstimate{
			Scope:    ref,
			BucketTS: bucket.UTC(),
			Energy: readings.Channels{
				ActiveImport:   nullFloat(eaPlus),
				ActiveExport:   nullFloat(eaMinus),
				ReactiveImport: nullFloat(erPlus),
				ReactiveExport: nullFloat(erMin),
				ReactiveQ1:     nullFloat(q1),
				ReactiveQ2:     nullFloat(q2),
				ReactiveQ3:     nullFloat(q3),
				ReactiveQ4:     nullFloat(q4),
			},
			EstimationMethod: method.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
