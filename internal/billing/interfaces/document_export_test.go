package interfaces_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	billing "metering-billing/internal/billing/domain"
	"metering-billing/internal/billing/interfaces"
	readings "metering-billing/internal/readings/domain"
	scope "metering-billing/internal/scope/domain"
)

func sampleDocument(t *testing.T) *billing.Document {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	doc, err := billing.NewDocument("doc-1", "CUST-1", scope.Pod(1), start, start.Add(time.Hour), "RON", start)
	require.NoError(t, err)
	require.NoError(t, doc.AddLine(billing.Line{
		ID: "line-1", MeterNo: "M1", Channel: readings.ActiveImport, TariffCode: "T1", Unit: "kWh",
		Quantity: 15, UnitPriceCents: 50, AmountCents: 750, VatRatePercent: 19, VatAmountCents: 143,
		PeriodStart: start, PeriodEnd: start.Add(time.Hour),
	}))
	return doc
}

func TestBuildDocumentPDF(t *testing.T) {
	out, err := interfaces.BuildDocumentPDF(sampleDocument(t))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))

	_, err = interfaces.BuildDocumentPDF(nil)
	require.ErrorIs(t, err, billing.ErrNilDocument)
}

func TestBuildDocumentXLSX(t *testing.T) {
	out, err := interfaces.BuildDocumentXLSX(sampleDocument(t))
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	total, err := f.GetCellValue("summary", "B11")
	require.NoError(t, err)
	assert.Equal(t, "893", total)

	rows, err := f.GetRows("lines")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "M1", rows[1][1])
	assert.Equal(t, "750", rows[1][7])
}
