package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	billingapp "metering-billing/internal/billing/application"
	billingrepo "metering-billing/internal/billing/infrastructure/postgres"
	energyapp "metering-billing/internal/energy/application"
	readingsapp "metering-billing/internal/readings/application"
	readings "metering-billing/internal/readings/domain"
	readingsrepo "metering-billing/internal/readings/infrastructure/postgres"
	scopeapp "metering-billing/internal/scope/application"
	scope "metering-billing/internal/scope/domain"
	scoperepo "metering-billing/internal/scope/infrastructure/postgres"
	tariffapp "metering-billing/internal/tariff/application"
	tariffrepo "metering-billing/internal/tariff/infrastructure/postgres"
)

const meterNo = "ITEST-M1"

func TestConsolidateAndBill_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"meter_data_raw", "meter_data", "meter_pod_assignments", "tariff_assignments", "billing_documents"} {
		if !tableExists(db, table) {
			t.Skip("missing tables; run migrations")
		}
	}

	ctx := context.Background()
	start := time.Date(2031, time.March, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	cleanup(ctx, db)
	t.Cleanup(func() { cleanup(context.Background(), db) })

	podID := seedHierarchy(ctx, t, db, start)

	repo := readingsrepo.NewRepository(db)
	raw := make([]readings.RawReading, 0, 2)
	for i, value := range []float64{100, 115} {
		row := readings.RawReading{
			MeterNo:    meterNo,
			Timestamp:  start.Add(time.Duration(i) * time.Hour),
			BucketTS:   start.Add(time.Duration(i) * time.Hour),
			Source:     readings.SourceSDIProcTV,
			Quality:    readings.QualityGood,
			ReceivedAt: start,
		}
		row.Channels.SetValue(readings.ActiveImport, value)
		raw = append(raw, row)
	}
	_, err = repo.UpsertRaw(ctx, raw)
	require.NoError(t, err)

	scopes := scoperepo.NewRepository(db)
	consolidator, err := readingsapp.NewConsolidator(repo, repo, repo, scopes, nil)
	require.NoError(t, err)
	result, err := consolidator.Consolidate(ctx, start, end.Add(time.Minute), []string{meterNo})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Written)

	again, err := consolidator.Consolidate(ctx, start, end.Add(time.Minute), []string{meterNo})
	require.NoError(t, err)
	assert.Equal(t, result, again)

	resolver, err := scopeapp.NewResolver(scopes, scopes, scopes)
	require.NoError(t, err)
	pricing, err := tariffapp.NewPricing(tariffrepo.NewCatalog(db), resolver)
	require.NoError(t, err)
	engine, err := energyapp.NewEngine(repo)
	require.NoError(t, err)
	docs := billingrepo.NewRepository(db)
	service, err := billingapp.NewService(docs, resolver, pricing, engine, nil)
	require.NoError(t, err)

	doc, err := service.CreateBillForScope(ctx, "ITEST-C1", scope.Pod(scope.PodID(podID)), start, end, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(750), doc.SubtotalCents)
	assert.Equal(t, int64(143), doc.VatCents)
	assert.Equal(t, int64(893), doc.TotalCents)

	stored, err := docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Len(t, stored.Lines, 1)
	assert.Equal(t, 15.0, stored.Lines[0].Quantity)
	assert.Equal(t, "pod", string(stored.Scope.Type()))
}

func seedHierarchy(ctx context.Context, t *testing.T, db *sql.DB, start time.Time) int64 {
	t.Helper()
	var siteID, podID, meterID, tariffID int64
	require.NoError(t, db.QueryRowContext(ctx, `INSERT INTO sites (code, name) VALUES ('ITEST-S1', 'integration') RETURNING id`).Scan(&siteID))
	require.NoError(t, db.QueryRowContext(ctx, `INSERT INTO pods (code, site_id) VALUES ('ITEST-P1', $1) RETURNING id`, siteID).Scan(&podID))
	require.NoError(t, db.QueryRowContext(ctx, `INSERT INTO meters (meter_no, constant, pod_id) VALUES ($1, 1, $2) RETURNING id`, meterNo, podID).Scan(&meterID))
	_, err := db.ExecContext(ctx, `INSERT INTO meter_pod_assignments (meter_id, pod_id, valid_from) VALUES ($1, $2, $3)`, meterID, podID, start.AddDate(0, -1, 0))
	require.NoError(t, err)
	require.NoError(t, db.QueryRowContext(ctx, `INSERT INTO tariffs (code, unit, active) VALUES ('ITEST-T1', 'kWh', TRUE) RETURNING id`).Scan(&tariffID))
	_, err = db.ExecContext(ctx, `INSERT INTO tariff_operator_prices (tariff_id, operator, price_cents) VALUES ($1, 'ENEL', 50)`, tariffID)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO tariff_assignments (tariff_id, pod_id, valid_from, is_primary) VALUES ($1, $2, $3, TRUE)`, tariffID, podID, start.AddDate(0, -1, 0))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO vat_rate_history (code, rate_percent, valid_from) VALUES ('ITEST', 19, $1) ON CONFLICT (code, valid_from) DO NOTHING`, start.AddDate(0, -1, 0))
	require.NoError(t, err)
	return podID
}

func cleanup(ctx context.Context, db *sql.DB) {
	_, _ = db.ExecContext(ctx, `DELETE FROM billing_documents WHERE customer_id = 'ITEST-C1'`)
	_, _ = db.ExecContext(ctx, `DELETE FROM meter_data WHERE meter_no = $1`, meterNo)
	_, _ = db.ExecContext(ctx, `DELETE FROM meter_data_raw WHERE meter_no = $1`, meterNo)
	_, _ = db.ExecContext(ctx, `DELETE FROM tariff_assignments WHERE tariff_id IN (SELECT id FROM tariffs WHERE code = 'ITEST-T1')`)
	_, _ = db.ExecContext(ctx, `DELETE FROM tariff_operator_prices WHERE tariff_id IN (SELECT id FROM tariffs WHERE code = 'ITEST-T1')`)
	_, _ = db.ExecContext(ctx, `DELETE FROM tariffs WHERE code = 'ITEST-T1'`)
	_, _ = db.ExecContext(ctx, `DELETE FROM vat_rate_history WHERE code = 'ITEST'`)
	_, _ = db.ExecContext(ctx, `DELETE FROM meter_pod_assignments WHERE meter_id IN (SELECT id FROM meters WHERE meter_no = $1)`, meterNo)
	_, _ = db.ExecContext(ctx, `DELETE FROM meters WHERE meter_no = $1`, meterNo)
	_, _ = db.ExecContext(ctx, `DELETE FROM pods WHERE code = 'ITEST-P1'`)
	_, _ = db.ExecContext(ctx, `DELETE FROM sites WHERE code = 'ITEST-S1'`)
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
	return err == nil && exists
}
