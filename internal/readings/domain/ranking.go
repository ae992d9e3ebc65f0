package readings

import "sort"

// Better reports whether a outranks b. Order: non-estimated first,
// non-interpolated first, quality rank, source priority, latest received_at,
// lowest raw id.
func Better(a, b RawReading, registry *Registry) bool {
	if a.Estimated != b.Estimated {
		return !a.Estimated
	}
	if a.Interpolated != b.Interpolated {
		return !a.Interpolated
	}
	if ra, rb := a.Quality.Rank(), b.Quality.Rank(); ra != rb {
		return ra < rb
	}
	if pa, pb := registry.Priority(a.Source), registry.Priority(b.Source); pa != pb {
		return pa < pb
	}
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.After(b.ReceivedAt)
	}
	return a.ID < b.ID
}

// ChooseBest returns the best candidate of a group.
func ChooseBest(candidates []RawReading, registry *Registry) (RawReading, bool) {
	if len(candidates) == 0 {
		return RawReading{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if Better(c, best, registry) {
			best = c
		}
	}
	return best, true
}

// Rank sorts candidates best first.
func Rank(candidates []RawReading, registry *Registry) []RawReading {
	out := make([]RawReading, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool { return Better(out[i], out[j], registry) })
	return out
}
