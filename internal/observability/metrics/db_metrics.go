package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const storeQueryTimeout = 2 * time.Second

type storeGauge struct {
	name  string
	help  string
	query string
}

// storeGauges are sampled on every scrape.
var storeGauges = []storeGauge{
	{
		name:  "billing_documents_draft",
		help:  "Billing documents still in DRAFT status",
		query: "SELECT COUNT(*) FROM billing_documents WHERE status = 'DRAFT'",
	},
	{
		name:  "billing_lines_true_up",
		help:  "Billing lines that correct an earlier line",
		query: "SELECT COUNT(*) FROM billing_lines WHERE is_true_up",
	},
	{
		name:  "canonical_readings",
		help:  "Rows in the canonical meter series",
		query: "SELECT COUNT(*) FROM meter_data",
	},
	{
		name:  "canonical_readings_estimated",
		help:  "Canonical rows whose winning raw reading was estimated",
		query: "SELECT COUNT(*) FROM meter_data WHERE estimated",
	},
	{
		name:  "ingest_batches_open",
		help:  "Ingest batches without finished_at",
		query: "SELECT COUNT(*) FROM ingest_batches WHERE finished_at IS NULL",
	},
}

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	for _, g := range storeGauges {
		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: metricPrefix + g.name, Help: g.help},
			func() float64 { return countRows(db, logger, g) },
		))
	}
}

func countRows(db *sql.DB, logger *zap.Logger, g storeGauge) float64 {
	if db == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeQueryTimeout)
	defer cancel()
	var count int64
	if err := db.QueryRowContext(ctx, g.query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("store gauge query failed", zap.String("gauge", g.name), zap.Error(err))
		}
		return 0
	}
	return float64(max(count, 0))
}
