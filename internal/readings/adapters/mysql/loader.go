package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	readings "metering-billing/internal/readings/domain"
)

const (
	defaultTVProc      = "FetchMeterData_v2"
	defaultBucketsProc = "FetchMeterData_SegmentsBuckets_V2"
	mysqlTimeLayout    = "2006-01-02 15:04:05"
)

var procNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Loader calls the SCADA stored procedures and maps their rows.
type Loader struct {
	db            *sql.DB
	tvProc        string
	bucketsProc   string
	bucket        string
	minuteBucket  int
	resultSetWant int
}

// Option customises the loader.
type Option func(*Loader)

// WithProcedures overrides the stored procedure names.
func WithProcedures(tv, buckets string) Option {
	return func(l *Loader) {
		if tv != "" {
			l.tvProc = tv
		}
		if buckets != "" {
			l.bucketsProc = buckets
		}
	}
}

// WithBucket sets the bucket granularity passed to the segments procedure.
func WithBucket(bucket string, minuteBucket int) Option {
	return func(l *Loader) {
		if bucket != "" {
			l.bucket = strings.ToLower(bucket)
		}
		if minuteBucket > 0 {
			l.minuteBucket = minuteBucket
		}
	}
}

// Open connects to MySQL. The DSN should carry parseTime=true.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("mysql loader: empty dsn")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	return db, nil
}

// NewLoader constructs a loader.
func NewLoader(db *sql.DB, opts ...Option) (*Loader, error) {
	if db == nil {
		return nil, errors.New("mysql loader: nil db")
	}
	l := &Loader{
		db:            db,
		tvProc:        defaultTVProc,
		bucketsProc:   defaultBucketsProc,
		bucket:        "minute",
		minuteBucket:  15,
		resultSetWant: 3,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if !procNamePattern.MatchString(l.tvProc) || !procNamePattern.MatchString(l.bucketsProc) {
		return nil, errors.New("mysql loader: invalid procedure name")
	}
	return l, nil
}

// FetchTV calls the TV procedure for one meter.
func (l *Loader) FetchTV(ctx context.Context, meterNo string, start, end time.Time) ([]readings.TVRow, error) {
	rows, err := l.db.QueryContext(ctx, "CALL "+l.tvProc+"(?, ?, ?)", meterNo, formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", l.tvProc, err)
	}
	defer rows.Close()

	records, err := readRecords(rows)
	if err != nil {
		return nil, err
	}
	out := make([]readings.TVRow, 0, len(records))
	for _, rec := range records {
		tv, ok := rec.time("TV", "tv", "Tv")
		if !ok {
			continue
		}
		row := readings.TVRow{
			TV: tv,
			Channels: readings.Channels{
				ActiveImport:   rec.float("EA_plus", "EA+", "EA_PLUS"),
				ActiveExport:   rec.float("EA_minus", "EA-", "EA_MINUS"),
				ReactiveImport: rec.float("ER_plus", "ER+", "ER_PLUS"),
				ReactiveExport: rec.float("ER_minus", "ER-", "ER_MINUS"),
				ReactiveQ1:     rec.float("R_Q1"),
				ReactiveQ2:     rec.float("R_Q2"),
				ReactiveQ3:     rec.float("R_Q3"),
				ReactiveQ4:     rec.float("R_Q4"),
			},
			Constant: rec.float("constant"),
		}
		if q := rec.float("quality"); q != nil {
			v := int(*q)
			row.Quality = &v
		}
		if mark := rec.float("reset_mark"); mark != nil && *mark != 0 {
			row.ResetMark = true
		}
		out = append(out, row)
	}
	return out, nil
}

// FetchBuckets calls the segments procedure and reads its last result set
// (bucketed totals).
func (l *Loader) FetchBuckets(ctx context.Context, meterNo string, start, end time.Time) ([]readings.BucketRow, error) {
	rows, err := l.db.QueryContext(ctx, "CALL "+l.bucketsProc+"(?, ?, ?, ?, ?)",
		meterNo, formatTime(start), formatTime(end), l.bucket, l.minuteBucket)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", l.bucketsProc, err)
	}
	defer rows.Close()

	var records []record
	for set := 1; ; set++ {
		current, err := readRecords(rows)
		if err != nil {
			return nil, err
		}
		if len(current) > 0 || set == 1 {
			records = current
		}
		if set >= l.resultSetWant || !rows.NextResultSet() {
			break
		}
	}

	out := make([]readings.BucketRow, 0, len(records))
	for _, rec := range records {
		bucketEnd, ok := rec.time("bucket_end")
		if !ok {
			continue
		}
		bucketStart, _ := rec.time("bucket_start")
		resetSteps := 0
		if v := rec.float("Reset_Steps"); v != nil {
			resetSteps = int(*v)
		}
		out = append(out, readings.BucketRow{
			BucketStart: bucketStart,
			BucketEnd:   bucketEnd,
			End: readings.Channels{
				ActiveImport:   rec.float("EA+_End"),
				ActiveExport:   rec.float("EA-_End"),
				ReactiveImport: rec.float("ER+_End"),
				ReactiveExport: rec.float("ER-_End"),
				ReactiveQ1:     rec.float("R_Q1_End"),
				ReactiveQ2:     rec.float("R_Q2_End"),
				ReactiveQ3:     rec.float("R_Q3_End"),
				ReactiveQ4:     rec.float("R_Q4_End"),
			},
			ResetSteps: resetSteps,
			Constant:   rec.float("constant"),
		})
	}
	return out, nil
}

func formatTime(ts time.Time) string {
	return ts.UTC().Truncate(time.Second).Format(mysqlTimeLayout)
}

// record is one procedure row keyed by column name.
type record map[string]any

func readRecords(rows *sql.Rows) ([]record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []record
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		rec := make(record, len(columns))
		for i, name := range columns {
			rec[name] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r record) lookup(keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := r[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (r record) float(keys ...string) *float64 {
	v, ok := r.lookup(keys...)
	if !ok {
		return nil
	}
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int64:
		f = float64(t)
	case int32:
		f = float64(t)
	case int:
		f = float64(t)
	case []byte:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

func (r record) time(keys ...string) (time.Time, bool) {
	v, ok := r.lookup(keys...)
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return asUTC(t), true
	case []byte:
		return parseTime(string(t))
	case string:
		return parseTime(t)
	default:
		return time.Time{}, false
	}
}

// asUTC treats naive procedure timestamps as UTC.
func asUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func parseTime(value string) (time.Time, bool) {
	for _, layout := range []string{mysqlTimeLayout, "2006-01-02 15:04:05.999999", time.RFC3339} {
		if ts, err := time.ParseInLocation(layout, strings.TrimSpace(value), time.UTC); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
