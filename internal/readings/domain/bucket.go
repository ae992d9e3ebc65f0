package readings

import (
	"sort"
	"time"
)

// FloorToBucket truncates ts to the bucket width in UTC. A zero width keeps ts.
func FloorToBucket(ts time.Time, width time.Duration) time.Time {
	ts = ts.UTC()
	if width <= 0 {
		return ts
	}
	return ts.Truncate(width)
}

// GroupKey identifies one consolidation group.
type GroupKey struct {
	MeterNo  string
	BucketTS time.Time
}

// Group is the set of raw candidates for one meter bucket.
type Group struct {
	Key        GroupKey
	Candidates []RawReading
}

// GroupByBucket groups raw rows by (meter_no, bucket_ts), ordered by meter then bucket.
func GroupByBucket(rows []RawReading) []Group {
	index := make(map[GroupKey]int)
	var groups []Group
	for _, row := range rows {
		key := GroupKey{MeterNo: row.MeterNo, BucketTS: row.BucketTS.UTC()}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Candidates = append(groups[i].Candidates, row)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Key.MeterNo != groups[j].Key.MeterNo {
			return groups[i].Key.MeterNo < groups[j].Key.MeterNo
		}
		return groups[i].Key.BucketTS.Before(groups[j].Key.BucketTS)
	})
	return groups
}
