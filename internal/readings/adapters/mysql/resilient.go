package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"metering-billing/internal/observability/logging"
	"metering-billing/internal/observability/metrics"
	readings "metering-billing/internal/readings/domain"
)

// ResilienceConfig tunes the breaker and retry around a loader.
type ResilienceConfig struct {
	Name            string
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	FailureRatio    float64
	MinRequests     uint32
	OpenTimeout     time.Duration
}

func (c ResilienceConfig) withDefaults() ResilienceConfig {
	if c.Name == "" {
		c.Name = "mysql-loader"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.6
	}
	if c.MinRequests == 0 {
		c.MinRequests = 3
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	return c
}

// ResilientLoader wraps a RowLoader with bounded retry and a circuit breaker.
// An open breaker fails fast without retrying.
type ResilientLoader struct {
	next    readings.RowLoader
	breaker *gobreaker.CircuitBreaker
	cfg     ResilienceConfig
	logger  *zap.Logger
}

// NewResilientLoader constructs the wrapper.
func NewResilientLoader(next readings.RowLoader, cfg ResilienceConfig, logger *zap.Logger) (*ResilientLoader, error) {
	if next == nil {
		return nil, errors.New("resilient loader: nil loader")
	}
	cfg = cfg.withDefaults()
	logger = logging.OrNop(logger)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("loader circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.SetLoaderBreakerState(name, int(to))
		},
	})
	return &ResilientLoader{next: next, breaker: breaker, cfg: cfg, logger: logger}, nil
}

// FetchTV delegates with retry and breaker.
func (l *ResilientLoader) FetchTV(ctx context.Context, meterNo string, start, end time.Time) ([]readings.TVRow, error) {
	var out []readings.TVRow
	err := l.do(ctx, func() error {
		rows, err := l.next.FetchTV(ctx, meterNo, start, end)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	return out, err
}

// FetchBuckets delegates with retry and breaker.
func (l *ResilientLoader) FetchBuckets(ctx context.Context, meterNo string, start, end time.Time) ([]readings.BucketRow, error) {
	var out []readings.BucketRow
	err := l.do(ctx, func() error {
		rows, err := l.next.FetchBuckets(ctx, meterNo, start, end)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	return out, err
}

func (l *ResilientLoader) do(ctx context.Context, call func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.InitialInterval
	b.MaxInterval = l.cfg.MaxInterval
	b.RandomizationFactor = 0.5

	operation := func() error {
		_, err := l.breaker.Execute(func() (interface{}, error) {
			return nil, call()
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		l.logger.Warn("loader call failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	return backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(b, l.cfg.MaxRetries), ctx), notify)
}
