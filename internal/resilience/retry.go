package resilience

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryConfig holds the backoff schedule
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns the standard schedule
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     30 * time.Second,
	}
}

// Validate checks the schedule
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("retry max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.InitialDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be >= 1, got %v", c.Multiplier)
	}
	return nil
}

// Delay returns the wait after the given zero-based failed attempt:
// min(initial * multiplier^attempt, max)
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// RetryFunc observes a retry about to happen
type RetryFunc func(attempt int, err error, delay time.Duration)

// Retrier retries retryable failures with exponential backoff
type Retrier struct {
	cfg         RetryConfig
	isRetryable func(error) bool
	timer       backoff.Timer
	logger      zerolog.Logger
	onRetry     []RetryFunc
}

// RetryOption configures a Retrier
type RetryOption func(*Retrier)

// WithTimer replaces the timer used to wait between attempts
func WithTimer(t backoff.Timer) RetryOption {
	return func(r *Retrier) {
		r.timer = t
	}
}

// WithRetryLogger sets the logger
func WithRetryLogger(l zerolog.Logger) RetryOption {
	return func(r *Retrier) {
		r.logger = l
	}
}

// WithClassifier replaces IsRetryable
func WithClassifier(fn func(error) bool) RetryOption {
	return func(r *Retrier) {
		r.isRetryable = fn
	}
}

// OnRetry registers a hook called before each wait
func OnRetry(fn RetryFunc) RetryOption {
	return func(r *Retrier) {
		r.onRetry = append(r.onRetry, fn)
	}
}

// NewRetrier creates a retrier
func NewRetrier(cfg RetryConfig, opts ...RetryOption) *Retrier {
	r := &Retrier{
		cfg:         cfg,
		isRetryable: IsRetryable,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the schedule
func (r *Retrier) Config() RetryConfig {
	return r.cfg
}

func (r *Retrier) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.cfg.InitialDelay
	eb.Multiplier = r.cfg.Multiplier
	eb.MaxInterval = r.cfg.MaxDelay
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = time.Duration(math.MaxInt64)
	}
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.cfg.MaxRetries)), ctx)
}

// Do calls fn up to MaxRetries+1 times. A non-retryable error is returned
// as is after its attempt; running out of attempts returns
// *RetriesExhaustedError.
func (r *Retrier) Do(ctx context.Context, fn func(context.Context) error) error {
	var (
		attempts  int
		last      error
		permanent bool
	)

	op := func() error {
		attempts++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err
		if !r.isRetryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		r.logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Dur("delay", delay).
			Msg("retrying after failure")
		for _, h := range r.onRetry {
			h(attempts, err, delay)
		}
	}

	err := backoff.RetryNotifyWithTimer(op, r.backOff(ctx), notify, r.timer)
	switch {
	case err == nil:
		return nil
	case permanent:
		return last
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return &RetriesExhaustedError{Attempts: attempts, Last: last}
}

// Retry decorates op with the retrier
func Retry[T any](r *Retrier, op Operation[T]) Operation[T] {
	return func(ctx context.Context) (T, error) {
		var out T
		err := r.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = op(ctx)
			return err
		})
		return out, err
	}
}
