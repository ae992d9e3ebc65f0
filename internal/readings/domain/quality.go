package readings

import "strings"

// Quality is the provenance quality flag of a reading.
type Quality string

const (
	QualityGood         Quality = "GOOD"
	QualityReplaced     Quality = "REPLACED"
	QualityInterpolated Quality = "INTERPOLATED"
	QualityEstimated    Quality = "ESTIMATED"
)

// qualityRank orders qualities best first. Anything not listed ranks last.
var qualityRank = map[Quality]int{
	QualityGood:         0,
	QualityReplaced:     1,
	QualityInterpolated: 2,
	QualityEstimated:    3,
}

const unknownQualityRank = 4

// Rank returns the ranking position, lower is better.
func (q Quality) Rank() int {
	if rank, ok := qualityRank[q]; ok {
		return rank
	}
	return unknownQualityRank
}

// IsKnown reports whether the value is one of the recognised flags.
func (q Quality) IsKnown() bool {
	_, ok := qualityRank[q]
	return ok
}

// ParseQuality normalises a wire value. Unknown values are kept verbatim
// and rank after every known quality.
func ParseQuality(value string) Quality {
	normalized := Quality(strings.ToUpper(strings.TrimSpace(value)))
	if normalized.IsKnown() {
		return normalized
	}
	return Quality(strings.TrimSpace(value))
}
