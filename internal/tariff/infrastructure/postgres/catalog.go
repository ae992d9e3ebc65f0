package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	scope "metering-billing/internal/scope/domain"
	tariff "metering-billing/internal/tariff/domain"
)

var assignmentColumn = map[scope.Type]string{
	scope.TypePod:   "pod_id",
	scope.TypeOdPod: "od_pod_id",
	scope.TypeSite:  "site_id",
}

// Catalog reads and writes tariff reference data.
type Catalog struct {
	db *sql.DB
}

// NewCatalog constructs a catalog.
func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// GetTariff returns a tariff with its operator prices, or nil.
func (c *Catalog) GetTariff(ctx context.Context, id int64) (*tariff.Tariff, error) {
	if c == nil || c.db == nil {
		return nil, errors.New("tariff catalog: nil db")
	}
	var (
		t           tariff.Tariff
		description sql.NullString
		billingType sql.NullString
	)
	err := c.db.QueryRowContext(ctx, `
SELECT id, code, description, unit, billing_type, active
FROM tariffs
WHERE id = $1`, id).Scan(&t.ID, &t.Code, &description, &t.Unit, &billingType, &t.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Description = description.String
	t.BillingType = billingType.String

	rows, err := c.db.QueryContext(ctx, `
SELECT operator, price_cents
FROM tariff_operator_prices
WHERE tariff_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	t.OperatorPrices = make(map[string]int64)
	for rows.Next() {
		var (
			operator string
			price    int64
		)
		if err := rows.Scan(&operator, &price); err != nil {
			return nil, err
		}
		t.OperatorPrices[operator] = price
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListAssignments returns tariff assignments bound directly to the unit.
func (c *Catalog) ListAssignments(ctx context.Context, ref scope.Ref) ([]tariff.Assignment, error) {
	if c == nil || c.db == nil {
		return nil, errors.New("tariff catalog: nil db")
	}
	if err := scope.Validate(ref); err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, tariff_id, operator, valid_from, valid_to, is_primary, price_override_cents, discount_percent
FROM tariff_assignments
WHERE %s = $1
ORDER BY id ASC`, assignmentColumn[ref.Type()]), ref.Key())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tariff.Assignment
	for rows.Next() {
		var (
			a         tariff.Assignment
			operator  sql.NullString
			validFrom sql.NullTime
			validTo   sql.NullTime
			override  sql.NullInt64
			discount  sql.NullFloat64
		)
		if err := rows.Scan(&a.ID, &a.TariffID, &operator, &validFrom, &validTo, &a.IsPrimary, &override, &discount); err != nil {
			return nil, err
		}
		a.Scope = ref
		a.Operator = nullString(operator)
		a.ValidFrom = nullTime(validFrom)
		a.ValidTo = nullTime(validTo)
		if override.Valid {
			v := override.Int64
			a.PriceOverrideCents = &v
		}
		if discount.Valid {
			v := discount.Float64
			a.DiscountPercent = &v
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListOffers returns offers scoped to the unit.
func (c *Catalog) ListOffers(ctx context.Context, ref scope.Ref) ([]tariff.Offer, error) {
	if c == nil || c.db == nil {
		return nil, errors.New("tariff catalog: nil db")
	}
	if err := scope.Validate(ref); err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(ctx, `
SELECT o.id, o.tariff_id, o.operator, o.unit_price_cents, o.discount_percent, o.active, o.valid_from, o.valid_to
FROM offers o
JOIN offer_scopes s ON s.offer_id = o.id
WHERE s.scope_type = $1 AND s.scope_id = $2
ORDER BY o.id ASC`, string(ref.Type()), ref.Key())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tariff.Offer
	for rows.Next() {
		var (
			o        tariff.Offer
			operator sql.NullString
			price    sql.NullInt64
			discount sql.NullFloat64
			validTo  sql.NullTime
		)
		if err := rows.Scan(&o.ID, &o.TariffID, &operator, &price, &discount, &o.Active, &o.ValidFrom, &validTo); err != nil {
			return nil, err
		}
		o.Operator = nullString(operator)
		if price.Valid {
			v := price.Int64
			o.UnitPriceCents = &v
		}
		if discount.Valid {
			v := discount.Float64
			o.DiscountPercent = &v
		}
		o.ValidFrom = o.ValidFrom.UTC()
		o.ValidTo = nullTime(validTo)
		o.Scopes = []scope.Ref{ref}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListVatRates returns the VAT history ordered by valid_from.
func (c *Catalog) ListVatRates(ctx context.Context) ([]tariff.VatRate, error) {
	if c == nil || c.db == nil {
		return nil, errors.New("tariff catalog: nil db")
	}
	rows, err := c.db.QueryContext(ctx, `
SELECT id, code, rate_percent, valid_from, valid_to
FROM vat_rate_history
ORDER BY valid_from ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []tariff.VatRate
	for rows.Next() {
		var (
			v       tariff.VatRate
			validTo sql.NullTime
		)
		if err := rows.Scan(&v.ID, &v.Code, &v.RatePercent, &v.ValidFrom, &validTo); err != nil {
			return nil, err
		}
		v.ValidFrom = v.ValidFrom.UTC()
		v.ValidTo = nullTime(validTo)
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertTariff stores a tariff and its operator prices by code.
func (c *Catalog) UpsertTariff(ctx context.Context, t tariff.Tariff) (int64, error) {
	if c == nil || c.db == nil {
		return 0, errors.New("tariff catalog: nil db")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRowContext(ctx, `
INSERT INTO tariffs (code, description, unit, billing_type, active)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (code) DO UPDATE SET
	description = EXCLUDED.description,
	unit = EXCLUDED.unit,
	billing_type = EXCLUDED.billing_type,
	active = EXCLUDED.active
RETURNING id`, t.Code, t.Description, t.Unit, t.BillingType, t.Active).Scan(&id)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	for operator, price := range t.OperatorPrices {
		_, err := tx.ExecContext(ctx, `
INSERT INTO tariff_operator_prices (tariff_id, operator, price_cents)
VALUES ($1,$2,$3)
ON CONFLICT (tariff_id, operator) DO UPDATE SET price_cents = EXCLUDED.price_cents`, id, operator, price)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// UpsertVatRate stores a VAT rate keyed by (code, valid_from).
func (c *Catalog) UpsertVatRate(ctx context.Context, v tariff.VatRate) error {
	if c == nil || c.db == nil {
		return errors.New("tariff catalog: nil db")
	}
	_, err := c.db.ExecContext(ctx, `
INSERT INTO vat_rate_history (code, rate_percent, valid_from, valid_to)
VALUES ($1,$2,$3,$4)
ON CONFLICT (code, valid_from) DO UPDATE SET
	rate_percent = EXCLUDED.rate_percent,
	valid_to = EXCLUDED.valid_to`, v.Code, v.RatePercent, v.ValidFrom, v.ValidTo)
	return err
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
