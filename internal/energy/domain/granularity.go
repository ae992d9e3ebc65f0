package energy

import "time"

// Granularity is the reporting bucket size.
type Granularity string

const (
	GranularityHour  Granularity = "hour"
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
	GranularityYear  Granularity = "year"
)

// IsValid reports whether the granularity is supported.
func (g Granularity) IsValid() bool {
	switch g {
	case GranularityHour, GranularityDay, GranularityMonth, GranularityYear:
		return true
	default:
		return false
	}
}

// Truncate returns the UTC start of the bucket containing t.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case GranularityHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	case GranularityDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case GranularityYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// Next returns the start of the bucket after the one starting at start.
func (g Granularity) Next(start time.Time) time.Time {
	switch g {
	case GranularityHour:
		return start.Add(time.Hour)
	case GranularityDay:
		return start.AddDate(0, 0, 1)
	case GranularityMonth:
		return start.AddDate(0, 1, 0)
	case GranularityYear:
		return start.AddDate(1, 0, 0)
	default:
		return start
	}
}

// TimeKey is the display key of a bucket.
type TimeKey string

// NewTimeKey formats the bucket start for the granularity.
func NewTimeKey(g Granularity, periodStart time.Time) (TimeKey, error) {
	if periodStart.IsZero() {
		return "", ErrInvalidWindow
	}
	layout, err := timeKeyLayout(g)
	if err != nil {
		return "", err
	}
	return TimeKey(periodStart.UTC().Format(layout)), nil
}

func timeKeyLayout(g Granularity) (string, error) {
	switch g {
	case GranularityHour:
		return "20060102T15", nil
	case GranularityDay:
		return "20060102", nil
	case GranularityMonth:
		return "200601", nil
	case GranularityYear:
		return "2006", nil
	default:
		return "", ErrInvalidGranularity
	}
}
