package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/iho/splitledger/internal/domain"
)

// Retrier implements usecase.Retrier with exponential backoff. Only
// domain.ErrConcurrencyConflict is retried; store adapters map their driver
// conflicts to it.
type Retrier struct {
	maxRetries      int
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
	logger          zerolog.Logger
	onRetry         func()
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithMaxRetries bounds the number of retries after the first attempt.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithIntervals overrides the backoff schedule.
func WithIntervals(initial, maxInterval, elapsed time.Duration) Option {
	return func(r *Retrier) {
		r.initialInterval = initial
		r.maxInterval = maxInterval
		r.maxElapsedTime = elapsed
	}
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Retrier) {
		r.logger = l
	}
}

// OnRetry registers a hook called before every retry.
func OnRetry(fn func()) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// New creates a new retrier with default settings.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		maxRetries:      3,
		initialInterval: 50 * time.Millisecond,
		maxInterval:     1 * time.Second,
		maxElapsedTime:  10 * time.Second,
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retry executes an operation with exponential backoff on retryable errors.
func (r *Retrier) Retry(ctx context.Context, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval
	b.MaxElapsedTime = r.maxElapsedTime

	retryCount := 0

	return backoff.Retry(func() error {
		err := operation()
		if err == nil {
			return nil
		}

		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}

		retryCount++
		if retryCount > r.maxRetries {
			return backoff.Permanent(err)
		}

		if r.onRetry != nil {
			r.onRetry()
		}

		r.logger.Warn().
			Err(err).
			Int("retry", retryCount).
			Msg("write conflict, retrying")

		return err
	}, backoff.WithContext(b, ctx))
}

// IsRetryable reports whether err is a write conflict worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrConcurrencyConflict)
}
