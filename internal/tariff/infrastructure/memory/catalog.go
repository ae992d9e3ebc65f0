package memory

import (
	"context"
	"sort"
	"sync"

	scope "metering-billing/internal/scope/domain"
	tariff "metering-billing/internal/tariff/domain"
)

// Catalog is an in-memory tariff catalog for demo/testing.
type Catalog struct {
	mu          sync.RWMutex
	nextID      int64
	tariffs     map[int64]tariff.Tariff
	assignments []tariff.Assignment
	offers      []tariff.Offer
	vat         []tariff.VatRate
}

// NewCatalog constructs a catalog.
func NewCatalog() *Catalog {
	return &Catalog{tariffs: make(map[int64]tariff.Tariff)}
}

// AddAssignment appends a tariff assignment.
func (c *Catalog) AddAssignment(a tariff.Assignment) {
	c.mu.Lock()
	c.assignments = append(c.assignments, a)
	c.mu.Unlock()
}

// AddOffer appends an offer.
func (c *Catalog) AddOffer(o tariff.Offer) {
	c.mu.Lock()
	c.offers = append(c.offers, o)
	c.mu.Unlock()
}

// UpsertTariff stores a tariff by code and returns its id.
func (c *Catalog) UpsertTariff(ctx context.Context, t tariff.Tariff) (int64, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, existing := range c.tariffs {
		if existing.Code == t.Code {
			t.ID = id
			c.tariffs[id] = cloneTariff(t)
			return id, nil
		}
	}
	if t.ID == 0 {
		c.nextID++
		t.ID = c.nextID
	} else if t.ID > c.nextID {
		c.nextID = t.ID
	}
	c.tariffs[t.ID] = cloneTariff(t)
	return t.ID, nil
}

// UpsertVatRate stores a VAT rate keyed by (code, valid_from).
func (c *Catalog) UpsertVatRate(ctx context.Context, v tariff.VatRate) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.vat {
		if existing.Code == v.Code && existing.ValidFrom.Equal(v.ValidFrom) {
			v.ID = existing.ID
			c.vat[i] = v
			return nil
		}
	}
	if v.ID == 0 {
		v.ID = int64(len(c.vat) + 1)
	}
	c.vat = append(c.vat, v)
	return nil
}

// GetTariff returns a tariff or nil.
func (c *Catalog) GetTariff(ctx context.Context, id int64) (*tariff.Tariff, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tariffs[id]
	if !ok {
		return nil, nil
	}
	out := cloneTariff(t)
	return &out, nil
}

// ListAssignments returns assignments bound directly to the unit.
func (c *Catalog) ListAssignments(ctx context.Context, ref scope.Ref) ([]tariff.Assignment, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []tariff.Assignment
	for _, a := range c.assignments {
		if a.Scope != nil && a.Scope.Type() == ref.Type() && a.Scope.Key() == ref.Key() {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListOffers returns offers scoped to the unit.
func (c *Catalog) ListOffers(ctx context.Context, ref scope.Ref) ([]tariff.Offer, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []tariff.Offer
	for _, o := range c.offers {
		if o.AppliesTo(ref) {
			out = append(out, o)
		}
	}
	return out, nil
}

// ListVatRates returns all VAT rates ordered by valid_from.
func (c *Catalog) ListVatRates(ctx context.Context) ([]tariff.VatRate, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]tariff.VatRate, len(c.vat))
	copy(out, c.vat)
	sort.Slice(out, func(i, j int) bool { return out[i].ValidFrom.Before(out[j].ValidFrom) })
	return out, nil
}

func cloneTariff(t tariff.Tariff) tariff.Tariff {
	prices := make(map[string]int64, len(t.OperatorPrices))
	for k, v := range t.OperatorPrices {
		prices[k] = v
	}
	t.OperatorPrices = prices
	return t
}
