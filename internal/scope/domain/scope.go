package scope

import (
	"fmt"
	"strconv"
)

// Type is the hierarchy level a meter or tariff can be attached to.
type Type string

const (
	TypeSite  Type = "site"
	TypeOdPod Type = "od_pod"
	TypePod   Type = "pod"
)

// IsValid reports whether the type is one of the three known levels.
func (t Type) IsValid() bool {
	switch t {
	case TypeSite, TypeOdPod, TypePod:
		return true
	default:
		return false
	}
}

// SiteID identifies a site.
type SiteID int64

// OdPodID identifies a distribution POD.
type OdPodID int64

// PodID identifies an SDI POD.
type PodID int64

// MeterID identifies a meter.
type MeterID int64

// Ref points at one billing unit. The set of implementations is closed:
// SiteRef, OdPodRef and PodRef.
type Ref interface {
	Type() Type
	Key() int64
	String() string
	sealed()
}

// SiteRef references a site.
type SiteRef struct{ ID SiteID }

// OdPodRef references a distribution POD.
type OdPodRef struct{ ID OdPodID }

// PodRef references an SDI POD.
type PodRef struct{ ID PodID }

func (SiteRef) Type() Type  { return TypeSite }
func (OdPodRef) Type() Type { return TypeOdPod }
func (PodRef) Type() Type   { return TypePod }

func (r SiteRef) Key() int64  { return int64(r.ID) }
func (r OdPodRef) Key() int64 { return int64(r.ID) }
func (r PodRef) Key() int64   { return int64(r.ID) }

func (r SiteRef) String() string  { return format(r) }
func (r OdPodRef) String() string { return format(r) }
func (r PodRef) String() string   { return format(r) }

func (SiteRef) sealed()  {}
func (OdPodRef) sealed() {}
func (PodRef) sealed()   {}

func format(r Ref) string {
	return string(r.Type()) + ":" + strconv.FormatInt(r.Key(), 10)
}

// Site builds a site reference.
func Site(id SiteID) Ref { return SiteRef{ID: id} }

// OdPod builds a distribution POD reference.
func OdPod(id OdPodID) Ref { return OdPodRef{ID: id} }

// Pod builds an SDI POD reference.
func Pod(id PodID) Ref { return PodRef{ID: id} }

// ParseRef converts a wire scope type and id into a Ref.
func ParseRef(kind string, id int64) (Ref, error) {
	switch Type(kind) {
	case TypeSite:
		return SiteRef{ID: SiteID(id)}, nil
	case TypeOdPod:
		return OdPodRef{ID: OdPodID(id)}, nil
	case TypePod:
		return PodRef{ID: PodID(id)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScopeType, kind)
	}
}

// Validate fails fast on a missing reference.
func Validate(ref Ref) error {
	if ref == nil {
		return ErrUnknownScopeType
	}
	if !ref.Type().IsValid() {
		return ErrUnknownScopeType
	}
	return nil
}

// Lineage is the chain of billing units above and including a reference,
// ordered most specific first.
type Lineage struct {
	Pod   *PodID
	OdPod *OdPodID
	Site  *SiteID
}

// Refs returns the lineage as references, most specific first.
func (l Lineage) Refs() []Ref {
	refs := make([]Ref, 0, 3)
	if l.Pod != nil {
		refs = append(refs, PodRef{ID: *l.Pod})
	}
	if l.OdPod != nil {
		refs = append(refs, OdPodRef{ID: *l.OdPod})
	}
	if l.Site != nil {
		refs = append(refs, SiteRef{ID: *l.Site})
	}
	return refs
}

// PodUnit is an SDI POD in the billing hierarchy.
type PodUnit struct {
	ID      PodID
	Code    string
	SiteID  SiteID
	OdPodID *OdPodID
}

// OdPodUnit is a distribution POD in the billing hierarchy.
type OdPodUnit struct {
	ID     OdPodID
	Code   string
	SiteID SiteID
}
