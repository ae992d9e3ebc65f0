package readings

import (
	"math"
	"sort"
)

// Well-known source codes.
const (
	SourceSDIProcTV           = "SDI_PROC_TV"
	SourceSDIProcBuckets      = "SDI_PROC_BUCKETS"
	SourceSupplierBill        = "SUPPLIER_BILL"
	SourceManual              = "MANUAL"
	SourceEstimateClientScope = "ESTIMATE_CLIENT_SCOPE"
)

// DefaultEstimatePriority keeps allocated estimates behind every real source.
const DefaultEstimatePriority = 1000

// DataSource is a provenance of raw readings. Lower priority wins.
type DataSource struct {
	Code     string
	Name     string
	Priority int
	Active   bool
}

// DefaultSources returns the built-in sources seeded on first start.
func DefaultSources(estimatePriority int) []DataSource {
	if estimatePriority <= 0 {
		estimatePriority = DefaultEstimatePriority
	}
	return []DataSource{
		{Code: SourceSDIProcBuckets, Name: "SDI bucket procedure", Priority: 70, Active: true},
		{Code: SourceSDIProcTV, Name: "SDI TV procedure", Priority: 80, Active: true},
		{Code: SourceSupplierBill, Name: "Supplier invoice", Priority: 90, Active: true},
		{Code: SourceManual, Name: "Manual entry", Priority: 100, Active: true},
		{Code: SourceEstimateClientScope, Name: "Client scope estimate", Priority: estimatePriority, Active: true},
	}
}

// Registry is a read-only lookup of data sources, built per operation.
type Registry struct {
	byCode map[string]DataSource
}

// NewRegistry builds a registry from a loaded source list.
func NewRegistry(sources []DataSource) *Registry {
	byCode := make(map[string]DataSource, len(sources))
	for _, src := range sources {
		byCode[src.Code] = src
	}
	return &Registry{byCode: byCode}
}

// Get returns the source by code.
func (r *Registry) Get(code string) (DataSource, bool) {
	if r == nil {
		return DataSource{}, false
	}
	src, ok := r.byCode[code]
	return src, ok
}

// Priority returns the source priority; unknown sources rank last.
func (r *Registry) Priority(code string) int {
	src, ok := r.Get(code)
	if !ok {
		return math.MaxInt32
	}
	return src.Priority
}

// Codes returns all registered codes sorted by priority then code.
func (r *Registry) Codes() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.byCode))
	for code := range r.byCode {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := r.byCode[out[i]].Priority, r.byCode[out[j]].Priority
		if pi != pj {
			return pi < pj
		}
		return out[i] < out[j]
	})
	return out
}
