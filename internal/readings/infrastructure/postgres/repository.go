package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	readings "metering-billing/internal/readings/domain"
)

// Repository persists raw and canonical readings, data sources and ingest batches.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const rawColumns = `id, meter_no, timestamp, bucket_ts, source_code,
	active_import, active_export, reactive_import, reactive_export,
	reactive_q1, reactive_q2, reactive_q3, reactive_q4, power_import, power_export,
	constant, quality, quality_code, estimated, interpolated, reset_detected, duplicate,
	estimation_method, received_at, batch_id`

const canonicalColumns = `meter_no, timestamp,
	active_import, active_export, reactive_import, reactive_export,
	reactive_q1, reactive_q2, reactive_q3, reactive_q4, power_import, power_export,
	constant, chosen_raw_id, chosen_source_code, quality, estimated, interpolated,
	reset_detected, estimation_method`

// ListRaw returns raw rows with bucket_ts in [start, end).
func (r *Repository) ListRaw(ctx context.Context, start, end time.Time, meterNos []string) ([]readings.RawReading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("readings repo: nil db")
	}
	var (
		rows *sql.Rows
		err  error
	)
	if len(meterNos) > 0 {
		rows, err = r.db.QueryContext(ctx, `
SELECT `+rawColumns+`
FROM meter_data_raw
WHERE bucket_ts >= $1 AND bucket_ts < $2 AND meter_no = ANY($3)
ORDER BY id ASC`, start, end, meterNos)
	} else {
		rows, err = r.db.QueryContext(ctx, `
SELECT `+rawColumns+`
FROM meter_data_raw
WHERE bucket_ts >= $1 AND bucket_ts < $2
ORDER BY id ASC`, start, end)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []readings.RawReading
	for rows.Next() {
		row, err := scanRaw(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertRaw inserts or replaces rows by (meter_no, bucket_ts, source_code).
func (r *Repository) UpsertRaw(ctx context.Context, rows []readings.RawReading) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("readings repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	written := 0
	for _, row := range rows {
		if err := row.Validate(); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		c := row.Channels
		_, err := tx.ExecContext(ctx, `
INSERT INTO meter_data_raw (
	meter_no, timestamp, bucket_ts, source_code,
	active_import, active_export, reactive_import, reactive_export,
	reactive_q1, reactive_q2, reactive_q3, reactive_q4, power_import, power_export,
	constant, quality, quality_code, estimated, interpolated, reset_detected, duplicate,
	estimation_method, received_at, batch_id
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24
)
ON CONFLICT (meter_no, bucket_ts, source_code) DO UPDATE SET
	timestamp = EXCLUDED.timestamp,
	active_import = EXCLUDED.active_import,
	active_export = EXCLUDED.active_export,
	reactive_import = EXCLUDED.reactive_import,
	reactive_export = EXCLUDED.reactive_export,
	reactive_q1 = EXCLUDED.reactive_q1,
	reactive_q2 = EXCLUDED.reactive_q2,
	reactive_q3 = EXCLUDED.reactive_q3,
	reactive_q4 = EXCLUDED.reactive_q4,
	power_import = EXCLUDED.power_import,
	power_export = EXCLUDED.power_export,
	constant = EXCLUDED.constant,
	quality = EXCLUDED.quality,
	quality_code = EXCLUDED.quality_code,
	estimated = EXCLUDED.estimated,
	interpolated = EXCLUDED.interpolated,
	reset_detected = EXCLUDED.reset_detected,
	duplicate = EXCLUDED.duplicate,
	estimation_method = EXCLUDED.estimation_method,
	received_at = EXCLUDED.received_at,
	batch_id = EXCLUDED.batch_id`,
			row.MeterNo, row.Timestamp.UTC(), row.BucketTS.UTC(), row.Source,
			c.ActiveImport, c.ActiveExport, c.ReactiveImport, c.ReactiveExport,
			c.ReactiveQ1, c.ReactiveQ2, c.ReactiveQ3, c.ReactiveQ4, c.PowerImport, c.PowerExport,
			row.Constant, string(row.Quality), row.QualityCode, row.Estimated, row.Interpolated,
			row.ResetDetected, row.Duplicate, nullString(row.EstimationMethod), row.ReceivedAt.UTC(), row.BatchID,
		)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

// UpsertCanonical inserts or replaces canonical rows keyed by (meter_no, timestamp).
func (r *Repository) UpsertCanonical(ctx context.Context, rows []readings.CanonicalReading) error {
	if r == nil || r.db == nil {
		return errors.New("readings repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, row := range rows {
		c := row.Channels
		_, err := tx.ExecContext(ctx, `
INSERT INTO meter_data (`+canonicalColumns+`) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
)
ON CONFLICT (meter_no, timestamp) DO UPDATE SET
	active_import = EXCLUDED.active_import,
	active_export = EXCLUDED.active_export,
	reactive_import = EXCLUDED.reactive_import,
	reactive_export = EXCLUDED.reactive_export,
	reactive_q1 = EXCLUDED.reactive_q1,
	reactive_q2 = EXCLUDED.reactive_q2,
	reactive_q3 = EXCLUDED.reactive_q3,
	reactive_q4 = EXCLUDED.reactive_q4,
	power_import = EXCLUDED.power_import,
	power_export = EXCLUDED.power_export,
	constant = EXCLUDED.constant,
	chosen_raw_id = EXCLUDED.chosen_raw_id,
	chosen_source_code = EXCLUDED.chosen_source_code,
	quality = EXCLUDED.quality,
	estimated = EXCLUDED.estimated,
	interpolated = EXCLUDED.interpolated,
	reset_detected = EXCLUDED.reset_detected,
	estimation_method = EXCLUDED.estimation_method`,
			row.MeterNo, row.Timestamp.UTC(),
			c.ActiveImport, c.ActiveExport, c.ReactiveImport, c.ReactiveExport,
			c.ReactiveQ1, c.ReactiveQ2, c.ReactiveQ3, c.ReactiveQ4, c.PowerImport, c.PowerExport,
			row.Constant, row.ChosenRawID, row.ChosenSourceCode, string(row.Quality),
			row.Estimated, row.Interpolated, row.ResetDetected, nullString(row.EstimationMethod),
		)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// LatestAtOrBefore returns the newest canonical row with timestamp <= at, or nil.
func (r *Repository) LatestAtOrBefore(ctx context.Context, meterNo string, at time.Time) (*readings.CanonicalReading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("readings repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+canonicalColumns+`
FROM meter_data
WHERE meter_no = $1 AND timestamp <= $2
ORDER BY timestamp DESC
LIMIT 1`, meterNo, at)
	reading, err := scanCanonical(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reading, nil
}

// ListSeries returns rows with after < timestamp <= until, ascending.
func (r *Repository) ListSeries(ctx context.Context, meterNo string, afterExclusive, untilInclusive time.Time) ([]readings.CanonicalReading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("readings repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+canonicalColumns+`
FROM meter_data
WHERE meter_no = $1 AND timestamp > $2 AND timestamp <= $3
ORDER BY timestamp ASC`, meterNo, afterExclusive, untilInclusive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []readings.CanonicalReading
	for rows.Next() {
		reading, err := scanCanonical(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListSources returns all data sources.
func (r *Repository) ListSources(ctx context.Context) ([]readings.DataSource, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("readings repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT code, name, priority, active
FROM data_sources
ORDER BY priority ASC, code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []readings.DataSource
	for rows.Next() {
		var src readings.DataSource
		if err := rows.Scan(&src.Code, &src.Name, &src.Priority, &src.Active); err != nil {
			return nil, err
		}
		result = append(result, src)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// EnsureSource inserts the source if missing; existing rows are left untouched.
func (r *Repository) EnsureSource(ctx context.Context, src readings.DataSource) error {
	if r == nil || r.db == nil {
		return errors.New("readings repo: nil db")
	}
	if src.Code == "" {
		return readings.ErrEmptySource
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO data_sources (code, name, priority, active)
VALUES ($1,$2,$3,$4)
ON CONFLICT (code) DO NOTHING`, src.Code, src.Name, src.Priority, src.Active)
	return err
}

// CreateBatch stores a new batch.
func (r *Repository) CreateBatch(ctx context.Context, batch *readings.IngestBatch) error {
	if r == nil || r.db == nil {
		return errors.New("readings repo: nil db")
	}
	if batch == nil {
		return errors.New("readings repo: nil batch")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO ingest_batches (id, source_code, file_name, file_hash, started_at)
VALUES ($1,$2,$3,$4,$5)`, batch.ID, batch.Source, batch.FileName, nullString(batch.FileHash), batch.StartedAt)
	return err
}

// FinishBatch stamps finished_at.
func (r *Repository) FinishBatch(ctx context.Context, id uuid.UUID, finishedAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("readings repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE ingest_batches SET finished_at = $1 WHERE id = $2`, finishedAt.UTC(), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

type channelColumns struct {
	activeImport, activeExport, reactiveImport, reactiveExport sql.NullFloat64
	q1, q2, q3, q4, powerImport, powerExport                   sql.NullFloat64
}

func (c *channelColumns) dest() []any {
	return []any{
		&c.activeImport, &c.activeExport, &c.reactiveImport, &c.reactiveExport,
		&c.q1, &c.q2, &c.q3, &c.q4, &c.powerImport, &c.powerExport,
	}
}

func (c *channelColumns) channels() readings.Channels {
	return readings.Channels{
		ActiveImport:   nullFloat(c.activeImport),
		ActiveExport:   nullFloat(c.activeExport),
		ReactiveImport: nullFloat(c.reactiveImport),
		ReactiveExport: nullFloat(c.reactiveExport),
		ReactiveQ1:     nullFloat(c.q1),
		ReactiveQ2:     nullFloat(c.q2),
		ReactiveQ3:     nullFloat(c.q3),
		ReactiveQ4:     nullFloat(c.q4),
		PowerImport:    nullFloat(c.powerImport),
		PowerExport:    nullFloat(c.powerExport),
	}
}

func scanRaw(row rowScanner) (readings.RawReading, error) {
	var (
		out         readings.RawReading
		ch          channelColumns
		constant    sql.NullFloat64
		quality     sql.NullString
		qualityCode sql.NullInt64
		method      sql.NullString
		batchID     uuid.NullUUID
	)
	dest := []any{&out.ID, &out.MeterNo, &out.Timestamp, &out.BucketTS, &out.Source}
	dest = append(dest, ch.dest()...)
	dest = append(dest, &constant, &quality, &qualityCode, &out.Estimated, &out.Interpolated,
		&out.ResetDetected, &out.Duplicate, &method, &out.ReceivedAt, &batchID)
	if err := row.Scan(dest...); err != nil {
		return readings.RawReading{}, err
	}
	out.Timestamp = out.Timestamp.UTC()
	out.BucketTS = out.BucketTS.UTC()
	out.ReceivedAt = out.ReceivedAt.UTC()
	out.Channels = ch.channels()
	out.Constant = nullFloat(constant)
	out.Quality = readings.ParseQuality(quality.String)
	if qualityCode.Valid {
		v := int(qualityCode.Int64)
		out.QualityCode = &v
	}
	out.EstimationMethod = method.String
	if batchID.Valid {
		id := batchID.UUID
		out.BatchID = &id
	}
	return out, nil
}

func scanCanonical(row rowScanner) (readings.CanonicalReading, error) {
	var (
		out      readings.CanonicalReading
		ch       channelColumns
		constant sql.NullFloat64
		rawID    sql.NullInt64
		source   sql.NullString
		quality  sql.NullString
		method   sql.NullString
	)
	dest := []any{&out.MeterNo, &out.Timestamp}
	dest = append(dest, ch.dest()...)
	dest = append(dest, &constant, &rawID, &source, &quality, &out.Estimated, &out.Interpolated,
		&out.ResetDetected, &method)
	if err := row.Scan(dest...); err != nil {
		return readings.CanonicalReading{}, err
	}
	out.Timestamp = out.Timestamp.UTC()
	out.Channels = ch.channels()
	out.Constant = nullFloat(constant)
	out.ChosenRawID = rawID.Int64
	out.ChosenSourceCode = source.String
	out.Quality = readings.ParseQuality(quality.String)
	out.EstimationMethod = method.String
	return out, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
