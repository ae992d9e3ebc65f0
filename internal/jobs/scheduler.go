package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"metering-billing/internal/observability/logging"
	"metering-billing/internal/observability/metrics"
)

const (
	defaultInterval    = time.Minute
	defaultWindow      = time.Hour
	defaultConcurrency = 4
)

// WindowFunc processes one [start, end) window. It must be idempotent.
type WindowFunc func(ctx context.Context, start, end time.Time) error

// Job is a batch operation re-run over a trailing range on every tick.
type Job struct {
	Name string
	// Lookback is the range ending at the current window boundary that each
	// tick re-processes.
	Lookback time.Duration
	Run      WindowFunc
}

// Window is one chunk of a range.
type Window struct {
	Start time.Time
	End   time.Time
}

// ChunkWindows splits [start, end) into consecutive windows of at most size.
func ChunkWindows(start, end time.Time, size time.Duration) []Window {
	if !start.Before(end) || size <= 0 {
		return nil
	}
	var out []Window
	for from := start; from.Before(end); from = from.Add(size) {
		to := from.Add(size)
		if to.After(end) {
			to = end
		}
		out = append(out, Window{Start: from, End: to})
	}
	return out
}

// Scheduler runs jobs on a fixed interval, fanning a tick's windows out on a
// bounded worker pool.
type Scheduler struct {
	jobs     []Job
	interval time.Duration
	window   time.Duration
	pool     pond.Pool
	running  map[string]*sync.Mutex
	clock    func() time.Time
	logger   *zap.Logger
}

// Option customises the scheduler.
type Option func(*schedulerConfig)

type schedulerConfig struct {
	interval    time.Duration
	window      time.Duration
	concurrency int
	clock       func() time.Time
	logger      *zap.Logger
}

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option {
	return func(c *schedulerConfig) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithWindow sets the chunk size.
func WithWindow(d time.Duration) Option {
	return func(c *schedulerConfig) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithConcurrency bounds the windows processed at once.
func WithConcurrency(n int) Option {
	return func(c *schedulerConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(c *schedulerConfig) {
		if now != nil {
			c.clock = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *schedulerConfig) {
		c.logger = logger
	}
}

// NewScheduler constructs a scheduler. Call Stop to release the worker pool.
func NewScheduler(jobs []Job, opts ...Option) (*Scheduler, error) {
	cfg := schedulerConfig{
		interval:    defaultInterval,
		window:      defaultWindow,
		concurrency: defaultConcurrency,
		clock:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	running := make(map[string]*sync.Mutex, len(jobs))
	for _, job := range jobs {
		if job.Name == "" {
			return nil, errors.New("scheduler: job without name")
		}
		if job.Run == nil {
			return nil, fmt.Errorf("scheduler: job %s has nil run func", job.Name)
		}
		if _, dup := running[job.Name]; dup {
			return nil, fmt.Errorf("scheduler: duplicate job %s", job.Name)
		}
		running[job.Name] = &sync.Mutex{}
	}
	return &Scheduler{
		jobs:     jobs,
		interval: cfg.interval,
		window:   cfg.window,
		pool:     pond.NewPool(cfg.concurrency),
		running:  running,
		clock:    cfg.clock,
		logger:   logging.OrNop(cfg.logger),
	}, nil
}

// Start runs ticks until ctx is cancelled. A cancelled context stops the next
// tick from being scheduled; windows already started finish.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || len(s.jobs) == 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Warn("scheduler tick finished with errors", zap.Error(err))
			}
		}
	}
}

// Stop waits for running windows and releases the pool.
func (s *Scheduler) Stop() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.StopAndWait()
}

// RunOnce processes every job's trailing range once, ending at the window
// boundary at or before now.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	end := s.clock().UTC().Truncate(s.window)
	var errs []error
	for _, job := range s.jobs {
		lookback := job.Lookback
		if lookback <= 0 {
			lookback = s.window
		}
		if err := s.runJob(ctx, job, end.Add(-lookback), end, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunRange processes [start, end) for the named job, chunked into windows.
// It waits for a tick already running the same job.
func (s *Scheduler) RunRange(ctx context.Context, name string, start, end time.Time) error {
	for _, job := range s.jobs {
		if job.Name == name {
			return s.runJob(ctx, job, start, end, true)
		}
	}
	return fmt.Errorf("scheduler: unknown job %s", name)
}

func (s *Scheduler) runJob(ctx context.Context, job Job, start, end time.Time, wait bool) error {
	lock := s.running[job.Name]
	if wait {
		lock.Lock()
	} else if !lock.TryLock() {
		metrics.IncJobWindow(job.Name, metrics.ResultSkipped)
		s.logger.Info("job still running, tick skipped", zap.String("job", job.Name))
		return nil
	}
	defer lock.Unlock()

	windows := ChunkWindows(start, end, s.window)
	var (
		mu   sync.Mutex
		errs []error
	)
	group := s.pool.NewGroup()
	submitted := 0
	for _, w := range windows {
		if ctx.Err() != nil {
			break
		}
		w := w
		submitted++
		group.Submit(func() {
			err := job.Run(context.WithoutCancel(ctx), w.Start, w.End)
			metrics.IncJobWindow(job.Name, metrics.Result(err))
			if err != nil {
				s.logger.Error("job window failed",
					zap.String("job", job.Name),
					zap.Time("start", w.Start),
					zap.Time("end", w.End),
					zap.Error(err),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s [%s, %s): %w", job.Name, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), err))
				mu.Unlock()
			}
		})
	}
	if submitted > 0 {
		if err := group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
