package billing

import (
	"fmt"
	"time"

	readings "metering-billing/internal/readings/domain"
	scope "metering-billing/internal/scope/domain"
)

// DocTypeInvoice is the only document type produced by billing runs.
const DocTypeInvoice = "INVOICE"

// Document is an invoice for one customer, billing unit and period.
type Document struct {
	ID                string
	DocType           string
	CustomerID        string
	Scope             scope.Ref
	PeriodStart       time.Time
	PeriodEnd         time.Time
	Currency          string
	Status            Status
	SubtotalCents     int64
	VatCents          int64
	TotalCents        int64
	ContainsEstimated bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Lines             []Line
}

// Line is one priced charge for a meter, channel and sub-period. The VAT
// rate and amount are fixed when the line is created.
type Line struct {
	ID                string
	DocumentID        string
	MeterNo           string
	Channel           readings.Channel
	TariffCode        string
	Unit              string
	Quantity          float64
	UnitPriceCents    int64
	AmountCents       int64
	VatRatePercent    float64
	VatAmountCents    int64
	ContainsEstimated bool
	PeriodStart       time.Time
	PeriodEnd         time.Time
	IsTrueUp          bool
	TrueUpOfLine      *string
	TrueUpReason      *string
}

// NewDocument builds an empty DRAFT invoice.
func NewDocument(id, customerID string, ref scope.Ref, start, end time.Time, currency string, now time.Time) (*Document, error) {
	if customerID == "" {
		return nil, ErrEmptyCustomerID
	}
	if err := scope.Validate(ref); err != nil {
		return nil, err
	}
	if !start.Before(end) {
		return nil, ErrInvalidPeriod
	}
	return &Document{
		ID:          id,
		DocType:     DocTypeInvoice,
		CustomerID:  customerID,
		Scope:       ref,
		PeriodStart: start.UTC(),
		PeriodEnd:   end.UTC(),
		Currency:    currency,
		Status:      StatusDraft,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}, nil
}

// AddLine appends a line and accumulates the totals.
func (d *Document) AddLine(line Line) error {
	if line.IsTrueUp && (line.TrueUpOfLine == nil || *line.TrueUpOfLine == "") {
		return ErrInvalidTrueUp
	}
	line.DocumentID = d.ID
	d.Lines = append(d.Lines, line)
	d.SubtotalCents += line.AmountCents
	d.VatCents += line.VatAmountCents
	d.TotalCents = d.SubtotalCents + d.VatCents
	if line.ContainsEstimated {
		d.ContainsEstimated = true
	}
	return nil
}

// TransitionTo moves the document forward in its lifecycle.
func (d *Document) TransitionTo(next Status, at time.Time) error {
	if !d.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, next)
	}
	d.Status = next
	d.UpdatedAt = at.UTC()
	return nil
}
