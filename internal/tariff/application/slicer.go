package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	scope "metering-billing/internal/scope/domain"
	tariff "metering-billing/internal/tariff/domain"
)

// SliceBoundaries returns {start, end} plus every boundary strictly inside
// (start, end) of the tariff assignments along the lineage, the offers scoped
// to ref and the VAT history, deduplicated and ascending.
func (p *Pricing) SliceBoundaries(ctx context.Context, ref scope.Ref, start, end time.Time) ([]time.Time, error) {
	if !start.Before(end) {
		return nil, tariff.ErrInvalidWindow
	}
	refs, err := p.lineageRefs(ctx, ref)
	if err != nil {
		return nil, err
	}

	set := make(map[int64]time.Time)
	add := func(t time.Time) {
		set[t.UnixNano()] = t.UTC()
	}
	addInside := func(t *time.Time) {
		if t != nil && t.After(start) && t.Before(end) {
			add(*t)
		}
	}
	add(start)
	add(end)

	for _, level := range refs {
		assignments, err := p.catalog.ListAssignments(ctx, level)
		if err != nil {
			return nil, fmt.Errorf("slice boundaries: assignments for %s: %w", level, err)
		}
		for _, a := range assignments {
			addInside(a.ValidFrom)
			addInside(a.ValidTo)
		}
	}

	offers, err := p.catalog.ListOffers(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("slice boundaries: offers for %s: %w", ref, err)
	}
	for _, o := range offers {
		if !o.Active {
			continue
		}
		from := o.ValidFrom
		addInside(&from)
		addInside(o.ValidTo)
	}

	rates, err := p.catalog.ListVatRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("slice boundaries: vat rates: %w", err)
	}
	for _, v := range rates {
		from := v.ValidFrom
		addInside(&from)
		addInside(v.ValidTo)
	}

	out := make([]time.Time, 0, len(set))
	for _, t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}
