package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	energy "metering-billing/internal/energy/domain"
	readings "metering-billing/internal/readings/domain"
)

// SeriesReader loads canonical series for a meter.
type SeriesReader interface {
	LatestAtOrBefore(ctx context.Context, meterNo string, at time.Time) (*readings.CanonicalReading, error)
	ListSeries(ctx context.Context, meterNo string, afterExclusive, untilInclusive time.Time) ([]readings.CanonicalReading, error)
}

// Window is one meter window to compute energy for.
type Window struct {
	MeterNo string
	Start   time.Time
	End     time.Time
	// HandoverValue seeds the active-import baseline when the meter has no
	// canonical reading at or before Start.
	HandoverValue *float64
}

// Bucket is one reporting period of a meter.
type Bucket struct {
	Start   time.Time
	End     time.Time
	TimeKey energy.TimeKey
	energy.Result
}

// Engine computes canonical energy deltas.
type Engine struct {
	series SeriesReader
}

// NewEngine constructs an engine.
func NewEngine(series SeriesReader) (*Engine, error) {
	if series == nil {
		return nil, errors.New("energy engine: nil series reader")
	}
	return &Engine{series: series}, nil
}

// WindowEnergy computes energy for [start, end): the baseline is the latest
// reading at or before start, the series covers start < ts <= end.
func (e *Engine) WindowEnergy(ctx context.Context, w Window, channels []readings.Channel) (energy.Result, error) {
	if !w.Start.Before(w.End) {
		return energy.Result{}, energy.ErrInvalidWindow
	}
	prev, err := e.series.LatestAtOrBefore(ctx, w.MeterNo, w.Start)
	if err != nil {
		return energy.Result{}, fmt.Errorf("energy: baseline for %s: %w", w.MeterNo, err)
	}
	var baseline *energy.Point
	switch {
	case prev != nil:
		p := energy.PointFromCanonical(*prev)
		baseline = &p
	case w.HandoverValue != nil:
		p := energy.Point{At: w.Start}
		p.Channels.SetValue(readings.ActiveImport, *w.HandoverValue)
		baseline = &p
	}

	rows, err := e.series.ListSeries(ctx, w.MeterNo, w.Start, w.End)
	if err != nil {
		return energy.Result{}, fmt.Errorf("energy: series for %s: %w", w.MeterNo, err)
	}
	points := make([]energy.Point, 0, len(rows))
	for _, row := range rows {
		points = append(points, energy.PointFromCanonical(row))
	}
	return energy.Compute(baseline, points, channels), nil
}

// Report returns one aggregate per calendar bucket (UTC) overlapping [start, end).
func (e *Engine) Report(ctx context.Context, meterNo string, start, end time.Time, g energy.Granularity, channels []readings.Channel) ([]Bucket, error) {
	if !g.IsValid() {
		return nil, energy.ErrInvalidGranularity
	}
	if !start.Before(end) {
		return nil, energy.ErrInvalidWindow
	}
	if len(channels) == 0 {
		channels = readings.CounterChannels
	}
	var out []Bucket
	for bucketStart := g.Truncate(start); bucketStart.Before(end); bucketStart = g.Next(bucketStart) {
		bucketEnd := g.Next(bucketStart)
		from, to := bucketStart, bucketEnd
		if from.Before(start) {
			from = start
		}
		if to.After(end) {
			to = end
		}
		result, err := e.WindowEnergy(ctx, Window{MeterNo: meterNo, Start: from, End: to}, channels)
		if err != nil {
			return nil, err
		}
		key, err := energy.NewTimeKey(g, bucketStart)
		if err != nil {
			return nil, err
		}
		out = append(out, Bucket{Start: from, End: to, TimeKey: key, Result: result})
	}
	return out, nil
}
