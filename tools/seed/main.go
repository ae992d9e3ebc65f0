package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"metering-billing/internal/observability/logging"
	scoperepo "metering-billing/internal/scope/infrastructure/postgres"
	"metering-billing/internal/tariff/adapters/excel"
	tariffrepo "metering-billing/internal/tariff/infrastructure/postgres"
)

type config struct {
	dsn            string
	tariffsFile    string
	tariffSheet    string
	vatFile        string
	vatSheet       string
	constantsFile  string
	constantSheets string
	effectiveFrom  string
}

func main() {
	cfg := parseConfig()
	logger, err := logging.New("info", "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.dsn == "" {
		logger.Fatal("PG_DSN or DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	importer, err := excel.NewImporter(tariffrepo.NewCatalog(db), scoperepo.NewRepository(db), logger)
	if err != nil {
		logger.Fatal("importer", zap.Error(err))
	}
	ctx := context.Background()

	if cfg.tariffsFile != "" {
		res, err := importFile(cfg.tariffsFile, func(f *os.File) (excel.Result, error) {
			return importer.ImportTariffs(ctx, f, cfg.tariffSheet)
		})
		if err != nil {
			logger.Fatal("import tariffs", zap.String("file", cfg.tariffsFile), zap.Error(err))
		}
		logger.Info("tariffs imported", zap.Int("imported", res.Imported), zap.Int("skipped", res.Skipped))
	}

	if cfg.vatFile != "" {
		res, err := importFile(cfg.vatFile, func(f *os.File) (excel.Result, error) {
			return importer.ImportVatRates(ctx, f, cfg.vatSheet)
		})
		if err != nil {
			logger.Fatal("import vat rates", zap.String("file", cfg.vatFile), zap.Error(err))
		}
		logger.Info("vat rates imported", zap.Int("imported", res.Imported), zap.Int("skipped", res.Skipped))
	}

	if cfg.constantsFile != "" {
		from, err := time.Parse("2006-01-02", cfg.effectiveFrom)
		if err != nil {
			logger.Fatal("invalid effective-from", zap.String("value", cfg.effectiveFrom), zap.Error(err))
		}
		res, err := importFile(cfg.constantsFile, func(f *os.File) (excel.Result, error) {
			return importer.ImportMeterConstants(ctx, f, splitCSV(cfg.constantSheets), from.UTC())
		})
		if err != nil {
			logger.Fatal("import meter constants", zap.String("file", cfg.constantsFile), zap.Error(err))
		}
		logger.Info("meter constants imported", zap.Int("imported", res.Imported), zap.Int("skipped", res.Skipped))
	}

	logger.Info("seed completed")
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&cfg.tariffsFile, "tariffs", "", "tariff workbook (.xlsx/.xlsm)")
	flag.StringVar(&cfg.tariffSheet, "tariff-sheet", "", "tariff sheet name (default: first sheet)")
	flag.StringVar(&cfg.vatFile, "vat", "", "VAT history workbook")
	flag.StringVar(&cfg.vatSheet, "vat-sheet", "", "VAT sheet name (default: first sheet)")
	flag.StringVar(&cfg.constantsFile, "constants", "", "meter constant workbook")
	flag.StringVar(&cfg.constantSheets, "constant-sheets", "", "comma-separated sheet names for meter constants")
	flag.StringVar(&cfg.effectiveFrom, "effective-from", time.Now().UTC().Format("2006-01-02"), "valid_from for imported constants (YYYY-MM-DD)")
	flag.Parse()
	return cfg
}

func importFile(path string, run func(*os.File) (excel.Result, error)) (excel.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return excel.Result{}, err
	}
	defer f.Close()
	return run(f)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
