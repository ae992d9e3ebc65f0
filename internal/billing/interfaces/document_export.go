package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	billing "metering-billing/internal/billing/domain"
)

const periodLayout = "2006-01-02 15:04"

// BuildDocumentPDF renders a minimal PDF invoice.
func BuildDocumentPDF(doc *billing.Document) ([]byte, error) {
	if doc == nil {
		return nil, billing.ErrNilDocument
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, fmt.Sprintf("Invoice %s", doc.ID))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Customer: %s", doc.CustomerID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Scope: %s", doc.Scope))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s - %s", doc.PeriodStart.Format(periodLayout), doc.PeriodEnd.Format(periodLayout)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", doc.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", doc.CreatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	if doc.ContainsEstimated {
		pdf.Cell(0, 6, "Contains estimated consumption")
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 9)
	headers := []struct {
		title string
		width float64
	}{
		{"#", 10}, {"Meter", 35}, {"Tariff", 25}, {"From", 32}, {"To", 32},
		{"Quantity", 25}, {"Unit price", 25}, {"Amount", 25}, {"VAT %", 18}, {"VAT", 25},
	}
	for _, h := range headers {
		pdf.CellFormat(h.width, 6, h.title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for i, line := range doc.Lines {
		tariffCode := line.TariffCode
		if line.IsTrueUp {
			tariffCode += " (true-up)"
		}
		cells := []string{
			fmt.Sprintf("%d", i+1),
			line.MeterNo,
			tariffCode,
			line.PeriodStart.Format(periodLayout),
			line.PeriodEnd.Format(periodLayout),
			fmt.Sprintf("%.3f %s", line.Quantity, line.Unit),
			formatCents(line.UnitPriceCents),
			formatCents(line.AmountCents),
			fmt.Sprintf("%.2f", line.VatRatePercent),
			formatCents(line.VatAmountCents),
		}
		for j, value := range cells {
			align := "R"
			if j > 0 && j < 5 {
				align = "L"
			}
			pdf.CellFormat(headers[j].width, 6, value, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Subtotal (%s): %s", doc.Currency, formatCents(doc.SubtotalCents)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("VAT (%s): %s", doc.Currency, formatCents(doc.VatCents)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total (%s): %s", doc.Currency, formatCents(doc.TotalCents)))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildDocumentXLSX renders a minimal XLSX invoice with a summary and a lines sheet.
func BuildDocumentXLSX(doc *billing.Document) ([]byte, error) {
	if doc == nil {
		return nil, billing.ErrNilDocument
	}
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	linesSheet := "lines"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(linesSheet); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Document", doc.ID},
		{"Type", doc.DocType},
		{"Customer", doc.CustomerID},
		{"Scope", doc.Scope.String()},
		{"Period start", doc.PeriodStart.Format(time.RFC3339)},
		{"Period end", doc.PeriodEnd.Format(time.RFC3339)},
		{"Status", string(doc.Status)},
		{"Currency", doc.Currency},
		{"Subtotal (cents)", doc.SubtotalCents},
		{"VAT (cents)", doc.VatCents},
		{"Total (cents)", doc.TotalCents},
		{"Contains estimated", doc.ContainsEstimated},
	}
	for i, row := range summary {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), row[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), row[1])
	}

	header := []any{
		"Line No", "Meter", "Channel", "Tariff", "Unit", "Quantity", "Unit Price (cents)",
		"Amount (cents)", "VAT %", "VAT (cents)", "Period start", "Period end", "Estimated", "True-up of",
	}
	if err := f.SetSheetRow(linesSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, line := range doc.Lines {
		trueUpOf := ""
		if line.TrueUpOfLine != nil {
			trueUpOf = *line.TrueUpOfLine
		}
		row := []any{
			i + 1, line.MeterNo, string(line.Channel), line.TariffCode, line.Unit, line.Quantity,
			line.UnitPriceCents, line.AmountCents, line.VatRatePercent, line.VatAmountCents,
			line.PeriodStart.Format(time.RFC3339), line.PeriodEnd.Format(time.RFC3339),
			line.ContainsEstimated, trueUpOf,
		}
		if err := f.SetSheetRow(linesSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
