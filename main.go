package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "metering-billing/internal/api/http"
	"metering-billing/internal/audit"
	"metering-billing/internal/auth"
	billingapp "metering-billing/internal/billing/application"
	billingrepo "metering-billing/internal/billing/infrastructure/postgres"
	"metering-billing/internal/config"
	energyapp "metering-billing/internal/energy/application"
	estimationapp "metering-billing/internal/estimation/application"
	estimationrepo "metering-billing/internal/estimation/infrastructure/postgres"
	"metering-billing/internal/jobs"
	"metering-billing/internal/observability/logging"
	"metering-billing/internal/observability/metrics"
	mysqlloader "metering-billing/internal/readings/adapters/mysql"
	readingsapp "metering-billing/internal/readings/application"
	readings "metering-billing/internal/readings/domain"
	readingsrepo "metering-billing/internal/readings/infrastructure/postgres"
	scopeapp "metering-billing/internal/scope/application"
	scope "metering-billing/internal/scope/domain"
	scoperepo "metering-billing/internal/scope/infrastructure/postgres"
	tariffapp "metering-billing/internal/tariff/application"
	tariffrepo "metering-billing/internal/tariff/infrastructure/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("metering-billing stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}

	metrics.Init(db, logger)

	readingsRepo := readingsrepo.NewRepository(db)
	scopeRepo := scoperepo.NewRepository(db)
	catalog := tariffrepo.NewCatalog(db)
	estimateRepo := estimationrepo.NewRepository(db)
	billingRepo := billingrepo.NewRepository(db)
	auditRepo := audit.NewRepository(db)

	resolver, err := scopeapp.NewResolver(scopeRepo, scopeRepo, scopeRepo)
	if err != nil {
		return err
	}
	consolidator, err := readingsapp.NewConsolidator(readingsRepo, readingsRepo, readingsRepo, scopeRepo, logger.Named("consolidate"))
	if err != nil {
		return err
	}
	allocator, err := estimationapp.NewAllocator(resolver, estimateRepo, readingsRepo, readingsRepo, readingsRepo, logger.Named("allocate"),
		estimationapp.WithEstimatePriority(cfg.EstimatePriority))
	if err != nil {
		return err
	}
	engine, err := energyapp.NewEngine(readingsRepo)
	if err != nil {
		return err
	}
	pricing, err := tariffapp.NewPricing(catalog, resolver)
	if err != nil {
		return err
	}
	channels, err := parseChannels(cfg.BilledChannels)
	if err != nil {
		return err
	}
	billingService, err := billingapp.NewService(billingRepo, resolver, pricing, engine, logger.Named("billing"),
		billingapp.WithChannels(channels...),
		billingapp.WithCurrency(cfg.Currency),
	)
	if err != nil {
		return err
	}

	jobList := []jobs.Job{
		{Name: "consolidate", Lookback: cfg.Scheduler.ConsolidateLookback, Run: func(ctx context.Context, start, end time.Time) error {
			_, err := consolidator.Consolidate(ctx, start, end, cfg.Meters)
			return err
		}},
	}
	if allocateJob, ok, err := buildAllocateJob(cfg, allocator); err != nil {
		return err
	} else if ok {
		jobList = append(jobList, allocateJob)
	}
	if cfg.MySQLDSN != "" {
		ingestJob, closeLoader, err := buildIngestJob(cfg, readingsRepo, logger)
		if err != nil {
			return err
		}
		defer closeLoader()
		jobList = append([]jobs.Job{ingestJob}, jobList...)
	}

	if cfg.Scheduler.Enabled {
		scheduler, err := jobs.NewScheduler(jobList,
			jobs.WithInterval(cfg.Scheduler.Interval),
			jobs.WithWindow(cfg.Scheduler.Window),
			jobs.WithConcurrency(cfg.Scheduler.Concurrency),
			jobs.WithLogger(logger.Named("scheduler")),
		)
		if err != nil {
			return err
		}
		go scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	jobsHandler, err := apihttp.NewJobsHandler(consolidator, allocator, auditRepo, logger.Named("http"))
	if err != nil {
		return err
	}
	billsHandler, err := apihttp.NewBillsHandler(billingService, auditRepo, logger.Named("http"))
	if err != nil {
		return err
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy, logger.Named("auth"))

	mux := http.NewServeMux()
	mux.Handle("/api/v1/jobs/", jobsHandler)
	mux.Handle("/api/v1/bills", billsHandler)
	mux.Handle("/api/v1/bills/", billsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), logger.Named("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildAllocateJob(cfg config.Config, allocator *estimationapp.Allocator) (jobs.Job, bool, error) {
	if len(cfg.AllocateScopes) == 0 {
		return jobs.Job{}, false, nil
	}
	type target struct {
		ref    scope.Ref
		method string
	}
	targets := make([]target, 0, len(cfg.AllocateScopes))
	for _, sc := range cfg.AllocateScopes {
		ref, err := scope.ParseRef(sc.Type, sc.ID)
		if err != nil {
			return jobs.Job{}, false, fmt.Errorf("allocate_scopes: %w", err)
		}
		targets = append(targets, target{ref: ref, method: sc.Method})
	}
	return jobs.Job{
		Name:     "allocate",
		Lookback: cfg.Scheduler.AllocateLookback,
		Run: func(ctx context.Context, start, end time.Time) error {
			var errs []error
			for _, t := range targets {
				if _, err := allocator.Allocate(ctx, t.ref, start, end, t.method); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", t.ref, err))
				}
			}
			return errors.Join(errs...)
		},
	}, true, nil
}

func buildIngestJob(cfg config.Config, repo *readingsrepo.Repository, logger *zap.Logger) (jobs.Job, func(), error) {
	mysqlDB, err := mysqlloader.Open(cfg.MySQLDSN)
	if err != nil {
		return jobs.Job{}, nil, err
	}
	loader, err := mysqlloader.NewLoader(mysqlDB,
		mysqlloader.WithProcedures(cfg.Loader.TVProc, cfg.Loader.BucketsProc),
		mysqlloader.WithBucket(cfg.Loader.Bucket, cfg.Loader.MinuteBucket),
	)
	if err != nil {
		_ = mysqlDB.Close()
		return jobs.Job{}, nil, err
	}
	resilient, err := mysqlloader.NewResilientLoader(loader, mysqlloader.ResilienceConfig{
		MaxRetries:      cfg.Loader.MaxRetries,
		InitialInterval: cfg.Loader.InitialInterval,
		MaxInterval:     cfg.Loader.MaxInterval,
		FailureRatio:    cfg.Loader.FailureRatio,
		MinRequests:     cfg.Loader.MinRequests,
		OpenTimeout:     cfg.Loader.OpenTimeout,
	}, logger.Named("loader"))
	if err != nil {
		_ = mysqlDB.Close()
		return jobs.Job{}, nil, err
	}
	ingestor, err := readingsapp.NewIngestor(resilient, repo, repo, repo, logger.Named("ingest"),
		readingsapp.WithBucketWidth(cfg.BucketWidth))
	if err != nil {
		_ = mysqlDB.Close()
		return jobs.Job{}, nil, err
	}
	job := jobs.Job{
		Name:     "ingest",
		Lookback: cfg.Scheduler.IngestLookback,
		Run: func(ctx context.Context, start, end time.Time) error {
			var errs []error
			for _, meterNo := range cfg.Meters {
				if _, err := ingestor.IngestTV(ctx, meterNo, start, end); err != nil {
					errs = append(errs, fmt.Errorf("tv %s: %w", meterNo, err))
				}
				if _, err := ingestor.IngestBuckets(ctx, meterNo, start, end); err != nil {
					errs = append(errs, fmt.Errorf("buckets %s: %w", meterNo, err))
				}
			}
			return errors.Join(errs...)
		},
	}
	return job, func() { _ = mysqlDB.Close() }, nil
}

func parseChannels(values []string) ([]readings.Channel, error) {
	out := make([]readings.Channel, 0, len(values))
	for _, value := range values {
		ch, err := readings.ParseChannel(value)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
