package energy

import (
	"time"

	readings "metering-billing/internal/readings/domain"
)

// Point is one counter snapshot in a meter series.
type Point struct {
	At        time.Time
	Channels  readings.Channels
	Constant  *float64
	Synthetic bool
}

// PointFromCanonical adapts a canonical reading.
func PointFromCanonical(c readings.CanonicalReading) Point {
	return Point{
		At:        c.Timestamp,
		Channels:  c.Channels,
		Constant:  c.Constant,
		Synthetic: c.IsSynthetic(),
	}
}

// Result is the energy consumed over a series.
type Result struct {
	Energy            map[readings.Channel]float64
	Resets            map[readings.Channel]int
	ContainsEstimated bool
}

// Get returns the energy for a channel, zero when absent.
func (r Result) Get(ch readings.Channel) float64 {
	return r.Energy[ch]
}

// Compute sums positive counter steps per channel, each scaled by the
// constant at the step's end (1 when absent). A step counts only when both
// ends carry the channel; a missing value keeps the last present one as the
// previous value. Decreasing steps are reported as resets and not billed.
func Compute(baseline *Point, series []Point, channels []readings.Channel) Result {
	result := Result{
		Energy: make(map[readings.Channel]float64, len(channels)),
		Resets: make(map[readings.Channel]int),
	}
	for _, p := range series {
		if p.Synthetic {
			result.ContainsEstimated = true
			break
		}
	}
	for _, ch := range channels {
		var (
			prev    float64
			hasPrev bool
			total   float64
		)
		if baseline != nil {
			prev, hasPrev = baseline.Channels.Value(ch)
		}
		for _, p := range series {
			curr, ok := p.Channels.Value(ch)
			if !ok {
				continue
			}
			if hasPrev {
				diff := curr - prev
				if diff < 0 {
					result.Resets[ch]++
				} else {
					total += diff * constantOrOne(p.Constant)
				}
			}
			prev, hasPrev = curr, true
		}
		result.Energy[ch] = total
	}
	return result
}

func constantOrOne(c *float64) float64 {
	if c == nil {
		return 1
	}
	return *c
}
