package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	scope "metering-billing/internal/scope/domain"
	tariff "metering-billing/internal/tariff/domain"
)

// LineageResolver resolves the billing-unit chain of a reference.
type LineageResolver interface {
	Lineage(ctx context.Context, ref scope.Ref) (scope.Lineage, error)
}

// ResolvedAssignment is a tariff assignment with its tariff loaded.
type ResolvedAssignment struct {
	Assignment tariff.Assignment
	Tariff     tariff.Tariff
}

// Pricing resolves tariffs, unit prices and VAT rates over time.
type Pricing struct {
	catalog tariff.Catalog
	lineage LineageResolver
}

// NewPricing constructs the pricing service.
func NewPricing(catalog tariff.Catalog, lineage LineageResolver) (*Pricing, error) {
	if catalog == nil {
		return nil, errors.New("pricing: nil catalog")
	}
	if lineage == nil {
		return nil, errors.New("pricing: nil lineage resolver")
	}
	return &Pricing{catalog: catalog, lineage: lineage}, nil
}

// ResolveTariffAssignment returns the assignment in force at the instant,
// walking pod, od_pod then site along the lineage of ref. Nil when none.
func (p *Pricing) ResolveTariffAssignment(ctx context.Context, ref scope.Ref, at time.Time, operator *string) (*ResolvedAssignment, error) {
	refs, err := p.lineageRefs(ctx, ref)
	if err != nil {
		return nil, err
	}
	for _, level := range refs {
		rows, err := p.catalog.ListAssignments(ctx, level)
		if err != nil {
			return nil, fmt.Errorf("pricing: assignments for %s: %w", level, err)
		}
		candidates := make([]tariff.Assignment, 0, len(rows))
		for _, row := range rows {
			if row.Covers(at) {
				candidates = append(candidates, row)
			}
		}
		sortAssignments(candidates, operator)
		for _, candidate := range candidates {
			t, err := p.catalog.GetTariff(ctx, candidate.TariffID)
			if err != nil {
				return nil, err
			}
			if t == nil {
				return nil, fmt.Errorf("%w: id %d", tariff.ErrTariffNotFound, candidate.TariffID)
			}
			if !t.Active {
				continue
			}
			return &ResolvedAssignment{Assignment: candidate, Tariff: *t}, nil
		}
	}
	return nil, nil
}

// sortAssignments orders operator match (when filtered), primary, latest
// valid_from, then id.
func sortAssignments(rows []tariff.Assignment, operator *string) {
	matches := func(a tariff.Assignment) bool {
		return operator != nil && *operator != "" && a.Operator != nil && *a.Operator == *operator
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if ma, mb := matches(a), matches(b); ma != mb {
			return ma
		}
		if a.IsPrimary != b.IsPrimary {
			return a.IsPrimary
		}
		switch {
		case a.ValidFrom == nil && b.ValidFrom != nil:
			return false
		case a.ValidFrom != nil && b.ValidFrom == nil:
			return true
		case a.ValidFrom != nil && b.ValidFrom != nil && !a.ValidFrom.Equal(*b.ValidFrom):
			return a.ValidFrom.After(*b.ValidFrom)
		}
		return a.ID < b.ID
	})
}

// ResolveUnitPriceCents prices a resolved assignment at the instant. An
// active offer on the unit wins, then the assignment override, then the base
// operator price less the assignment discount.
func (p *Pricing) ResolveUnitPriceCents(ctx context.Context, ref scope.Ref, resolved ResolvedAssignment, at time.Time) (int64, error) {
	offer, err := p.offerFor(ctx, ref, resolved, at)
	if err != nil {
		return 0, err
	}
	a := resolved.Assignment
	if offer != nil {
		if offer.UnitPriceCents != nil {
			return *offer.UnitPriceCents, nil
		}
		operator := offer.Operator
		if operator == nil || *operator == "" {
			operator = a.Operator
		}
		base, ok := resolved.Tariff.BasePriceCents(operator)
		if !ok {
			return 0, fmt.Errorf("%w: tariff %s", tariff.ErrNoOperatorPrice, resolved.Tariff.Code)
		}
		if offer.DiscountPercent != nil {
			return tariff.ApplyDiscount(base, *offer.DiscountPercent), nil
		}
		return base, nil
	}
	if a.PriceOverrideCents != nil {
		return *a.PriceOverrideCents, nil
	}
	base, ok := resolved.Tariff.BasePriceCents(a.Operator)
	if !ok {
		return 0, fmt.Errorf("%w: tariff %s", tariff.ErrNoOperatorPrice, resolved.Tariff.Code)
	}
	if a.DiscountPercent != nil && *a.DiscountPercent != 0 {
		return tariff.ApplyDiscount(base, *a.DiscountPercent), nil
	}
	return base, nil
}

// offerFor finds the active offer for the tariff scoped to the billed unit
// itself, preferring the latest valid_from then lowest id. Offers on parent
// units do not apply.
func (p *Pricing) offerFor(ctx context.Context, ref scope.Ref, resolved ResolvedAssignment, at time.Time) (*tariff.Offer, error) {
	offers, err := p.catalog.ListOffers(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("pricing: offers for %s: %w", ref, err)
	}
	var best *tariff.Offer
	for i := range offers {
		o := offers[i]
		if !o.Active || o.TariffID != resolved.Tariff.ID || !o.Covers(at) || !o.AppliesTo(ref) {
			continue
		}
		if !tariff.OperatorMatches(resolved.Assignment.Operator, o.Operator) {
			continue
		}
		if best == nil || o.ValidFrom.After(best.ValidFrom) || (o.ValidFrom.Equal(best.ValidFrom) && o.ID < best.ID) {
			best = &offers[i]
		}
	}
	return best, nil
}

// ResolveVatRateAt returns the rate of the most recent VAT row containing the
// instant, or zero.
func (p *Pricing) ResolveVatRateAt(ctx context.Context, at time.Time) (float64, error) {
	rates, err := p.catalog.ListVatRates(ctx)
	if err != nil {
		return 0, fmt.Errorf("pricing: vat rates: %w", err)
	}
	var best *tariff.VatRate
	for i := range rates {
		if !rates[i].Covers(at) {
			continue
		}
		if best == nil || rates[i].ValidFrom.After(best.ValidFrom) {
			best = &rates[i]
		}
	}
	if best == nil {
		return 0, nil
	}
	return best.RatePercent, nil
}

func (p *Pricing) lineageRefs(ctx context.Context, ref scope.Ref) ([]scope.Ref, error) {
	if err := scope.Validate(ref); err != nil {
		return nil, err
	}
	lineage, err := p.lineage.Lineage(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("pricing: lineage for %s: %w", ref, err)
	}
	refs := lineage.Refs()
	if len(refs) == 0 {
		refs = []scope.Ref{ref}
	}
	return refs, nil
}
