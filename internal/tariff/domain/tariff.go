package tariff

import (
	"time"

	scope "metering-billing/internal/scope/domain"
)

// Tariff is a priced product. OperatorPrices maps operator code to the unit
// price in cents.
type Tariff struct {
	ID             int64
	Code           string
	Description    string
	Unit           string
	BillingType    string
	Active         bool
	OperatorPrices map[string]int64
}

// BasePriceCents returns the operator price: an exact match when operator is
// set, else the cheapest operator.
func (t Tariff) BasePriceCents(operator *string) (int64, bool) {
	if operator != nil && *operator != "" {
		price, ok := t.OperatorPrices[*operator]
		return price, ok
	}
	var (
		best  int64
		found bool
	)
	for _, price := range t.OperatorPrices {
		if !found || price < best {
			best = price
			found = true
		}
	}
	return best, found
}

// Assignment binds a tariff to exactly one billing unit.
type Assignment struct {
	ID                 int64
	TariffID           int64
	Scope              scope.Ref
	Operator           *string
	ValidFrom          *time.Time
	ValidTo            *time.Time
	IsPrimary          bool
	PriceOverrideCents *int64
	DiscountPercent    *float64
}

// Covers reports validity at the instant; nil bounds are open.
func (a Assignment) Covers(at time.Time) bool {
	return covers(a.ValidFrom, a.ValidTo, at)
}

// Offer is a time-limited price or discount for a tariff on one or more units.
type Offer struct {
	ID              int64
	TariffID        int64
	Operator        *string
	UnitPriceCents  *int64
	DiscountPercent *float64
	Active          bool
	ValidFrom       time.Time
	ValidTo         *time.Time
	Scopes          []scope.Ref
}

// Covers reports validity at the instant.
func (o Offer) Covers(at time.Time) bool {
	from := o.ValidFrom
	return covers(&from, o.ValidTo, at)
}

// AppliesTo reports whether the offer is scoped to the unit.
func (o Offer) AppliesTo(ref scope.Ref) bool {
	if ref == nil {
		return false
	}
	for _, s := range o.Scopes {
		if s != nil && s.Type() == ref.Type() && s.Key() == ref.Key() {
			return true
		}
	}
	return false
}

// VatRate is a global VAT rate valid for a window.
type VatRate struct {
	ID          int64
	Code        string
	RatePercent float64
	ValidFrom   time.Time
	ValidTo     *time.Time
}

// Covers reports validity at the instant.
func (v VatRate) Covers(at time.Time) bool {
	from := v.ValidFrom
	return covers(&from, v.ValidTo, at)
}

func covers(from, to *time.Time, at time.Time) bool {
	if from != nil && at.Before(*from) {
		return false
	}
	return to == nil || at.Before(*to)
}

// OperatorMatches reports whether a filter accepts the operator: an unset
// value on either side matches.
func OperatorMatches(filter, value *string) bool {
	if filter == nil || *filter == "" || value == nil || *value == "" {
		return true
	}
	return *filter == *value
}
