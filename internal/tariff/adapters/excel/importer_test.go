package excel_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	scope "metering-billing/internal/scope/domain"
	scopememory "metering-billing/internal/scope/infrastructure/memory"
	"metering-billing/internal/tariff/adapters/excel"
	tariff "metering-billing/internal/tariff/domain"
	"metering-billing/internal/tariff/infrastructure/memory"
)

func workbook(t *testing.T, sheet string, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", sheet))
	for i, row := range rows {
		cellName, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cellName, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return &buf
}

func TestImportTariffs(t *testing.T) {
	catalog := memory.NewCatalog()
	importer, err := excel.NewImporter(catalog, nil, nil)
	require.NoError(t, err)

	buf := workbook(t, "Preturi si tarife", [][]any{
		{"Anexa 2"},
		{"Tarif ID", "Denumire servicii facturate", "Billing type", "ENEL", "A2A"},
		{"", "", "", "RON/kWh", "RON/kWh"},
		{"T1", "Energie activa", "kwh", "0,50", "0.455"},
		{"T2", "Certificate verzi", "kwh", "0.1", ""},
		{"Total", "", "", "", ""},
	})

	result, err := importer.ImportTariffs(context.Background(), buf, "Preturi si tarife")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 1, result.Skipped)

	t1, err := catalog.GetTariff(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, t1)
	assert.Equal(t, "T1", t1.Code)
	assert.Equal(t, "RON/kWh", t1.Unit)
	assert.True(t, t1.Active)
	assert.Equal(t, map[string]int64{"ENEL": 50, "A2A": 46}, t1.OperatorPrices)

	t2, err := catalog.GetTariff(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, t2)
	assert.Equal(t, map[string]int64{"ENEL": 10}, t2.OperatorPrices)
}

func TestImportTariffs_MissingHeader(t *testing.T) {
	importer, err := excel.NewImporter(memory.NewCatalog(), nil, nil)
	require.NoError(t, err)
	buf := workbook(t, "prices", [][]any{{"code?", "price"}})
	_, err = importer.ImportTariffs(context.Background(), buf, "prices")
	require.ErrorIs(t, err, tariff.ErrInvalidRow)
}

func TestImportVatRates(t *testing.T) {
	catalog := memory.NewCatalog()
	importer, err := excel.NewImporter(catalog, nil, nil)
	require.NoError(t, err)
	buf := workbook(t, "vat", [][]any{
		{"code", "rate_percent", "valid_from", "valid_to"},
		{"STD", "19", "2017-01-01", "2025-08-01"},
		{"STD", "21", "2025-08-01", ""},
	})

	result, err := importer.ImportVatRates(context.Background(), buf, "vat")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)

	rates, err := catalog.ListVatRates(context.Background())
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.Equal(t, 19.0, rates[0].RatePercent)
	require.NotNil(t, rates[0].ValidTo)
	assert.True(t, rates[0].ValidTo.Equal(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, rates[1].ValidTo)
}

func TestImportMeterConstants(t *testing.T) {
	scopes := scopememory.NewRepository()
	scopes.AddMeter(scope.Meter{ID: 1, MeterNo: "SN-001"})
	scopes.AddMeter(scope.Meter{ID: 2, MeterNo: "SN-002"})
	importer, err := excel.NewImporter(memory.NewCatalog(), scopes, nil)
	require.NoError(t, err)

	buf := workbook(t, "Centralizator", [][]any{
		{"Serie contor", "Locatie", "Constanta"},
		{"SN-001", "A", "40"},
		{"SN-002", "B", "0"},
		{"SN-999", "C", "80"},
	})
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	result, err := importer.ImportMeterConstants(context.Background(), buf, []string{"contoare", "Centralizator"}, from)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 2, result.Skipped)

	history, err := scopes.ListConstantHistory(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 40.0, history[0].Constant)
	assert.True(t, history[0].ValidFrom.Equal(from))
}
