package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	scope "metering-billing/internal/scope/domain"
)

var assignmentTables = map[scope.Type]struct {
	table  string
	column string
}{
	scope.TypePod:   {table: "meter_pod_assignments", column: "pod_id"},
	scope.TypeOdPod: {table: "meter_od_pod_assignments", column: "od_pod_id"},
	scope.TypeSite:  {table: "meter_site_assignments", column: "site_id"},
}

// Repository reads meters, assignments, replacements and the billing hierarchy.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ListAssignments returns all assignments for the scope.
func (r *Repository) ListAssignments(ctx context.Context, ref scope.Ref) ([]scope.Assignment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("scope repo: nil db")
	}
	if err := scope.Validate(ref); err != nil {
		return nil, err
	}
	target := assignmentTables[ref.Type()]
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT meter_id, valid_from, valid_to
FROM %s
WHERE %s = $1
ORDER BY valid_from ASC, meter_id ASC`, target.table, target.column), ref.Key())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []scope.Assignment
	for rows.Next() {
		var (
			meterID   int64
			validFrom time.Time
			validTo   sql.NullTime
		)
		if err := rows.Scan(&meterID, &validFrom, &validTo); err != nil {
			return nil, err
		}
		result = append(result, scope.Assignment{
			Scope:     ref,
			MeterID:   scope.MeterID(meterID),
			ValidFrom: validFrom.UTC(),
			ValidTo:   nullTime(validTo),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListReplacements returns replacements with replaced_at in [start, end).
func (r *Repository) ListReplacements(ctx context.Context, start, end time.Time) ([]scope.MeterReplacement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("scope repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT old_meter_id, new_meter_id, replaced_at, handover_value
FROM meter_replacements
WHERE replaced_at >= $1 AND replaced_at < $2
ORDER BY replaced_at ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []scope.MeterReplacement
	for rows.Next() {
		var (
			oldID, newID int64
			replacedAt   time.Time
			handover     sql.NullFloat64
		)
		if err := rows.Scan(&oldID, &newID, &replacedAt, &handover); err != nil {
			return nil, err
		}
		result = append(result, scope.MeterReplacement{
			OldMeterID:    scope.MeterID(oldID),
			NewMeterID:    scope.MeterID(newID),
			ReplacedAt:    replacedAt.UTC(),
			HandoverValue: nullFloat(handover),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetMeters returns the meters found for the ids.
func (r *Repository) GetMeters(ctx context.Context, ids []scope.MeterID) ([]scope.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("scope repo: nil db")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = int64(id)
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, meter_no, name, constant, site_id, od_pod_id, pod_id
FROM meters
WHERE id = ANY($1)
ORDER BY id ASC`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []scope.Meter
	for rows.Next() {
		meter, err := scanMeter(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *meter)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetMeterByNo returns a meter by serial number, or nil when unknown.
func (r *Repository) GetMeterByNo(ctx context.Context, meterNo string) (*scope.Meter, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("scope repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, meter_no, name, constant, site_id, od_pod_id, pod_id
FROM meters
WHERE meter_no = $1
LIMIT 1`, meterNo)
	meter, err := scanMeter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return meter, err
}

// ListConstantHistory returns constant history rows for a meter.
func (r *Repository) ListConstantHistory(ctx context.Context, meterID scope.MeterID) ([]scope.ConstantHistory, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("scope repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT constant, valid_from, valid_to
FROM meter_constant_history
WHERE meter_id = $1
ORDER BY valid_from ASC`, int64(meterID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []scope.ConstantHistory
	for rows.Next() {
		var (
			constant  float64
			validFrom time.Time
			validTo   sql.NullTime
		)
		if err := rows.Scan(&constant, &validFrom, &validTo); err != nil {
			return nil, err
		}
		result = append(result, scope.ConstantHistory{
			MeterID:   meterID,
			Constant:  constant,
			ValidFrom: validFrom.UTC(),
			ValidTo:   nullTime(validTo),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertConstantHistory inserts or updates a constant history row keyed by (meter, valid_from).
func (r *Repository) UpsertConstantHistory(ctx context.Context, row scope.ConstantHistory) error {
	if r == nil || r.db == nil {
		return errors.New("scope repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO meter_constant_history (meter_id, constant, valid_from, valid_to)
VALUES ($1,$2,$3,$4)
ON CONFLICT (meter_id, valid_from) DO UPDATE
SET constant = EXCLUDED.constant, valid_to = EXCLUDED.valid_to`,
		int64(row.MeterID), row.Constant, row.ValidFrom, row.ValidTo)
	return err
}

// Lineage resolves pod -> od_pod -> site.
func (r *Repository) Lineage(ctx context.Context, ref scope.Ref) (scope.Lineage, error) {
	if r == nil || r.db == nil {
		return scope.Lineage{}, errors.New("scope repo: nil db")
	}
	if err := scope.Validate(ref); err != nil {
		return scope.Lineage{}, err
	}
	var lineage scope.Lineage
	switch v := ref.(type) {
	case scope.PodRef:
		id := v.ID
		lineage.Pod = &id
		var (
			siteID  int64
			odPodID sql.NullInt64
		)
		err := r.db.QueryRowContext(ctx, `SELECT site_id, od_pod_id FROM pods WHERE id = $1`, int64(id)).Scan(&siteID, &odPodID)
		if errors.Is(err, sql.ErrNoRows) {
			return lineage, nil
		}
		if err != nil {
			return scope.Lineage{}, err
		}
		site := scope.SiteID(siteID)
		lineage.Site = &site
		if odPodID.Valid {
			odPod := scope.OdPodID(odPodID.Int64)
			lineage.OdPod = &odPod
		}
	case scope.OdPodRef:
		id := v.ID
		lineage.OdPod = &id
		var siteID int64
		err := r.db.QueryRowContext(ctx, `SELECT site_id FROM od_pods WHERE id = $1`, int64(id)).Scan(&siteID)
		if errors.Is(err, sql.ErrNoRows) {
			return lineage, nil
		}
		if err != nil {
			return scope.Lineage{}, err
		}
		site := scope.SiteID(siteID)
		lineage.Site = &site
	case scope.SiteRef:
		id := v.ID
		lineage.Site = &id
	}
	return lineage, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeter(row rowScanner) (*scope.Meter, error) {
	var (
		id       int64
		meter    scope.Meter
		name     sql.NullString
		constant sql.NullFloat64
		siteID   sql.NullInt64
		odPodID  sql.NullInt64
		podID    sql.NullInt64
	)
	if err := row.Scan(&id, &meter.MeterNo, &name, &constant, &siteID, &odPodID, &podID); err != nil {
		return nil, err
	}
	meter.ID = scope.MeterID(id)
	meter.Name = name.String
	meter.Constant = nullFloat(constant)
	if siteID.Valid {
		v := scope.SiteID(siteID.Int64)
		meter.SiteID = &v
	}
	if odPodID.Valid {
		v := scope.OdPodID(odPodID.Int64)
		meter.OdPodID = &v
	}
	if podID.Valid {
		v := scope.PodID(podID.Int64)
		meter.PodID = &v
	}
	return &meter, nil
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
