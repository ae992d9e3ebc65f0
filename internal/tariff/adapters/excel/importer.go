package excel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"metering-billing/internal/observability/logging"
	scope "metering-billing/internal/scope/domain"
	tariff "metering-billing/internal/tariff/domain"
)

const headerScanRows = 12

var (
	tariffIDHeaders    = []string{"tarif id", "tariff id", "code"}
	descriptionHeaders = []string{"denumire servicii facturate", "description"}
	billingTypeHeaders = []string{"billing type"}
	serialHeaders      = []string{"serie contor", "seria contor", "meter_no", "sn", "serie", "s/n"}
	constantHeaders    = []string{"constanta", "constant", "factor", "c.t.", "ct", "k"}
)

var dateLayouts = []string{"2006-01-02", "02.01.2006", "2006-01-02 15:04:05", time.RFC3339}

// ConstantStore is the meter side needed by the constant import.
type ConstantStore interface {
	GetMeterByNo(ctx context.Context, meterNo string) (*scope.Meter, error)
	UpsertConstantHistory(ctx context.Context, row scope.ConstantHistory) error
}

// Result summarises one import run.
type Result struct {
	Imported int
	Skipped  int
}

// Importer loads tariff, VAT and meter-constant reference data from XLSX workbooks.
type Importer struct {
	catalog   tariff.CatalogWriter
	constants ConstantStore
	logger    *zap.Logger
}

// NewImporter constructs an importer. constants may be nil when meter
// constants are not imported.
func NewImporter(catalog tariff.CatalogWriter, constants ConstantStore, logger *zap.Logger) (*Importer, error) {
	if catalog == nil {
		return nil, errors.New("excel importer: nil catalog writer")
	}
	return &Importer{catalog: catalog, constants: constants, logger: logging.OrNop(logger)}, nil
}

// ImportTariffs reads a price sheet. The header row holds the tariff id,
// description and billing type columns; every other named column is an
// operator price in currency per unit. An optional units row follows the
// header. Only codes shaped like T1, T36 are imported.
func (i *Importer) ImportTariffs(ctx context.Context, r io.Reader, sheet string) (Result, error) {
	rows, err := readSheet(r, sheet)
	if err != nil {
		return Result{}, err
	}
	headerIdx := findHeaderRow(rows, tariffIDHeaders)
	if headerIdx < 0 {
		return Result{}, fmt.Errorf("%w: no tariff id header in sheet %q", tariff.ErrInvalidRow, sheet)
	}
	header := normalizeRow(rows[headerIdx])
	idCol := columnOf(header, tariffIDHeaders)
	descCol := columnOf(header, descriptionHeaders)
	billCol := columnOf(header, billingTypeHeaders)

	excluded := map[int]bool{idCol: true, descCol: true, billCol: true}
	var operatorCols []int
	for col, name := range header {
		if name == "" || excluded[col] || strings.HasPrefix(name, "unnamed") {
			continue
		}
		operatorCols = append(operatorCols, col)
	}

	start := headerIdx + 1
	unit := ""
	if start < len(rows) && isUnitsRow(rows[start]) {
		for _, col := range operatorCols {
			if v := cell(rows[start], col); v != "" {
				unit = v
				break
			}
		}
		start++
	}

	var result Result
	for _, row := range rows[start:] {
		code := cell(row, idCol)
		if !isTariffCode(code) {
			result.Skipped++
			continue
		}
		prices := make(map[string]int64)
		for _, col := range operatorCols {
			raw := cell(row, col)
			if raw == "" {
				continue
			}
			value, err := parseDecimal(raw)
			if err != nil {
				continue
			}
			prices[strings.TrimSpace(rows[headerIdx][col])] = tariff.RoundCents(value.Mul(decimal.NewFromInt(100)))
		}
		t := tariff.Tariff{
			Code:           code,
			Description:    cell(row, descCol),
			Unit:           unit,
			BillingType:    cell(row, billCol),
			Active:         true,
			OperatorPrices: prices,
		}
		if _, err := i.catalog.UpsertTariff(ctx, t); err != nil {
			return result, fmt.Errorf("excel importer: tariff %s: %w", code, err)
		}
		result.Imported++
	}
	i.logger.Info("tariffs imported",
		zap.String("sheet", sheet),
		zap.Int("imported", result.Imported),
		zap.Int("skipped", result.Skipped),
		zap.Int("operators", len(operatorCols)),
	)
	return result, nil
}

// ImportVatRates reads code, rate_percent, valid_from and optional valid_to
// columns from the first row onward.
func (i *Importer) ImportVatRates(ctx context.Context, r io.Reader, sheet string) (Result, error) {
	rows, err := readSheet(r, sheet)
	if err != nil {
		return Result{}, err
	}
	headerIdx := findHeaderRow(rows, []string{"rate_percent", "rate"})
	if headerIdx < 0 {
		return Result{}, fmt.Errorf("%w: no rate header in sheet %q", tariff.ErrInvalidRow, sheet)
	}
	header := normalizeRow(rows[headerIdx])
	codeCol := columnOf(header, []string{"code"})
	rateCol := columnOf(header, []string{"rate_percent", "rate"})
	fromCol := columnOf(header, []string{"valid_from"})
	toCol := columnOf(header, []string{"valid_to"})
	if rateCol < 0 || fromCol < 0 {
		return Result{}, fmt.Errorf("%w: vat sheet needs rate and valid_from", tariff.ErrInvalidRow)
	}

	var result Result
	for n, row := range rows[headerIdx+1:] {
		rate, err := parseDecimal(cell(row, rateCol))
		if err != nil {
			result.Skipped++
			continue
		}
		from, err := parseDate(cell(row, fromCol))
		if err != nil {
			return result, fmt.Errorf("%w: vat row %d: %v", tariff.ErrInvalidRow, headerIdx+n+2, err)
		}
		v := tariff.VatRate{Code: cell(row, codeCol), RatePercent: rate.InexactFloat64(), ValidFrom: from}
		if v.Code == "" {
			v.Code = "STD"
		}
		if raw := cell(row, toCol); raw != "" {
			to, err := parseDate(raw)
			if err != nil {
				return result, fmt.Errorf("%w: vat row %d: %v", tariff.ErrInvalidRow, headerIdx+n+2, err)
			}
			v.ValidTo = &to
		}
		if err := i.catalog.UpsertVatRate(ctx, v); err != nil {
			return result, fmt.Errorf("excel importer: vat %s: %w", v.Code, err)
		}
		result.Imported++
	}
	i.logger.Info("vat rates imported", zap.String("sheet", sheet), zap.Int("imported", result.Imported))
	return result, nil
}

// ImportMeterConstants reads serial/constant pairs from the first candidate
// sheet that has both columns and records each positive constant as valid
// from effectiveFrom. Unknown meters are skipped.
func (i *Importer) ImportMeterConstants(ctx context.Context, r io.Reader, sheets []string, effectiveFrom time.Time) (Result, error) {
	if i.constants == nil {
		return Result{}, errors.New("excel importer: nil constant store")
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Result{}, fmt.Errorf("excel importer: open workbook: %w", err)
	}
	defer f.Close()

	if len(sheets) == 0 {
		sheets = f.GetSheetList()
	}
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		header := normalizeRow(rows[0])
		serialCol := columnOf(header, serialHeaders)
		constCol := columnOf(header, constantHeaders)
		if serialCol < 0 || constCol < 0 {
			continue
		}
		var result Result
		for _, row := range rows[1:] {
			serial := cell(row, serialCol)
			value, err := parseDecimal(cell(row, constCol))
			if serial == "" || err != nil || !value.IsPositive() {
				result.Skipped++
				continue
			}
			meter, err := i.constants.GetMeterByNo(ctx, serial)
			if err != nil {
				return result, err
			}
			if meter == nil {
				result.Skipped++
				continue
			}
			err = i.constants.UpsertConstantHistory(ctx, scope.ConstantHistory{
				MeterID:   meter.ID,
				Constant:  value.InexactFloat64(),
				ValidFrom: effectiveFrom.UTC(),
			})
			if err != nil {
				return result, fmt.Errorf("excel importer: constant for %s: %w", serial, err)
			}
			result.Imported++
		}
		i.logger.Info("meter constants imported",
			zap.String("sheet", sheet),
			zap.Int("imported", result.Imported),
			zap.Int("skipped", result.Skipped),
		)
		return result, nil
	}
	return Result{}, fmt.Errorf("%w: no sheet with serial and constant columns", tariff.ErrInvalidRow)
}

func readSheet(r io.Reader, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("excel importer: open workbook: %w", err)
	}
	defer f.Close()
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("excel importer: sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func findHeaderRow(rows [][]string, candidates []string) int {
	limit := len(rows)
	if limit > headerScanRows {
		limit = headerScanRows
	}
	for idx := 0; idx < limit; idx++ {
		if columnOf(normalizeRow(rows[idx]), candidates) >= 0 {
			return idx
		}
	}
	return -1
}

func normalizeRow(row []string) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func columnOf(header []string, candidates []string) int {
	for _, cand := range candidates {
		for col, name := range header {
			if name == cand {
				return col
			}
		}
	}
	return -1
}

func isTariffCode(code string) bool {
	if len(code) < 2 || (code[0] != 'T' && code[0] != 't') {
		return false
	}
	_, err := strconv.Atoi(code[1:])
	return err == nil
}

func isUnitsRow(row []string) bool {
	for _, v := range normalizeRow(row) {
		if strings.Contains(v, "ron") || strings.Contains(v, "kwh") || strings.Contains(v, "lei") {
			return true
		}
	}
	return false
}

func cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	if raw == "" {
		return decimal.Zero, strconv.ErrSyntax
	}
	return decimal.NewFromString(raw)
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", raw)
}
