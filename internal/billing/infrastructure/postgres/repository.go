package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	billing "metering-billing/internal/billing/domain"
	readings "metering-billing/internal/readings/domain"
	scope "metering-billing/internal/scope/domain"
)

// Repository persists billing documents and lines.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs a repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts the document and all lines in one transaction.
func (r *Repository) Create(ctx context.Context, doc *billing.Document) error {
	if r == nil || r.db == nil {
		return errors.New("billing repo: nil db")
	}
	if doc == nil {
		return billing.ErrNilDocument
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO billing_documents (
	id, doc_type, customer_id, scope_type, scope_id, period_start, period_end, currency, status,
	subtotal_cents, vat_cents, total_cents, contains_estimated, created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)`,
		doc.ID, doc.DocType, doc.CustomerID, string(doc.Scope.Type()), doc.Scope.Key(), doc.PeriodStart, doc.PeriodEnd,
		doc.Currency, string(doc.Status), doc.SubtotalCents, doc.VatCents, doc.TotalCents, doc.ContainsEstimated,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	for seq, line := range doc.Lines {
		_, err := tx.ExecContext(ctx, `
INSERT INTO billing_lines (
	id, document_id, line_no, meter_no, channel, tariff_code, unit, quantity, unit_price_cents,
	amount_cents, vat_rate_percent, vat_amount_cents, contains_estimated, period_start, period_end,
	is_true_up, true_up_of_line, true_up_reason
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18
)`,
			line.ID, doc.ID, seq+1, line.MeterNo, string(line.Channel), line.TariffCode, line.Unit, line.Quantity,
			line.UnitPriceCents, line.AmountCents, line.VatRatePercent, line.VatAmountCents, line.ContainsEstimated,
			line.PeriodStart, line.PeriodEnd, line.IsTrueUp, line.TrueUpOfLine, line.TrueUpReason,
		)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Get returns the document with its lines, or nil when missing.
func (r *Repository) Get(ctx context.Context, id string) (*billing.Document, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("billing repo: nil db")
	}
	var (
		doc       billing.Document
		scopeType string
		scopeID   int64
		status    string
	)
	err := r.db.QueryRowContext(ctx, `
SELECT id, doc_type, customer_id, scope_type, scope_id, period_start, period_end, currency, status,
	subtotal_cents, vat_cents, total_cents, contains_estimated, created_at, updated_at
FROM billing_documents
WHERE id = $1`, id).Scan(
		&doc.ID, &doc.DocType, &doc.CustomerID, &scopeType, &scopeID, &doc.PeriodStart, &doc.PeriodEnd,
		&doc.Currency, &status, &doc.SubtotalCents, &doc.VatCents, &doc.TotalCents, &doc.ContainsEstimated,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if doc.Scope, err = scope.ParseRef(scopeType, scopeID); err != nil {
		return nil, err
	}
	if doc.Status, err = billing.ParseStatus(status); err != nil {
		return nil, err
	}
	doc.PeriodStart = doc.PeriodStart.UTC()
	doc.PeriodEnd = doc.PeriodEnd.UTC()
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()

	lines, err := r.listLines(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Lines = lines
	return &doc, nil
}

func (r *Repository) listLines(ctx context.Context, documentID string) ([]billing.Line, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, meter_no, channel, tariff_code, unit, quantity, unit_price_cents,
	amount_cents, vat_rate_percent, vat_amount_cents, contains_estimated, period_start, period_end,
	is_true_up, true_up_of_line, true_up_reason
FROM billing_lines
WHERE document_id = $1
ORDER BY line_no ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []billing.Line
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateStatus sets the document status.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status billing.Status, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("billing repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE billing_documents
SET status = $1, updated_at = $2
WHERE id = $3`, string(status), at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return billing.ErrDocumentNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLine(row rowScanner) (*billing.Line, error) {
	var (
		line    billing.Line
		channel string
		ofLine  sql.NullString
		reason  sql.NullString
	)
	err := row.Scan(
		&line.ID, &line.DocumentID, &line.MeterNo, &channel, &line.TariffCode, &line.Unit, &line.Quantity,
		&line.UnitPriceCents, &line.AmountCents, &line.VatRatePercent, &line.VatAmountCents, &line.ContainsEstimated,
		&line.PeriodStart, &line.PeriodEnd, &line.IsTrueUp, &ofLine, &reason,
	)
	if err != nil {
		return nil, err
	}
	line.Channel = readings.Channel(channel)
	line.PeriodStart = line.PeriodStart.UTC()
	line.PeriodEnd = line.PeriodEnd.UTC()
	if ofLine.Valid {
		v := ofLine.String
		line.TrueUpOfLine = &v
	}
	if reason.Valid {
		v := reason.String
		line.TrueUpReason = &v
	}
	return &line, nil
}
