package tariff

import (
	"context"

	scope "metering-billing/internal/scope/domain"
)

// Catalog reads tariffs, assignments, offers and VAT history.
type Catalog interface {
	GetTariff(ctx context.Context, id int64) (*Tariff, error)
	// ListAssignments returns tariff assignments bound directly to the unit.
	ListAssignments(ctx context.Context, ref scope.Ref) ([]Assignment, error)
	// ListOffers returns offers scoped to the unit.
	ListOffers(ctx context.Context, ref scope.Ref) ([]Offer, error)
	ListVatRates(ctx context.Context) ([]VatRate, error)
}

// CatalogWriter stores reference data loaded by importers.
type CatalogWriter interface {
	// UpsertTariff stores the tariff by code and returns its id.
	UpsertTariff(ctx context.Context, t Tariff) (int64, error)
	UpsertVatRate(ctx context.Context, v VatRate) error
}
