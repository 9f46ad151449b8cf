// Package queue schedules compliance jobs. Two implementations share one
// contract: jobs of a tenant run one at a time in enqueue order, failures
// are re-run with exponential backoff up to a maximum number of attempts,
// and a job that exhausts its attempts is logged without stopping the worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/rezonia/invoice-compliance/internal/resilience"
)

// Kind selects what a job does with its invoice
type Kind string

const (
	KindProcess Kind = "process"
	KindCancel  Kind = "cancel"
)

// Job is one compliance run for an invoice
type Job struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	InvoiceID  string    `json:"invoice_id"`
	Kind       Kind      `json:"kind"`
	Reason     string    `json:"reason,omitempty"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	RunAt      time.Time `json:"run_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// Handler runs a job. A returned error schedules another attempt.
type Handler func(ctx context.Context, job Job) error

// Queue is the job pipeline
type Queue interface {
	// Enqueue schedules job after the initial delay and returns it with
	// its assigned id and timestamps
	Enqueue(ctx context.Context, job Job) (Job, error)
	// Start launches the worker; it runs until ctx is done or Close
	Start(ctx context.Context, h Handler) error
	// Size returns the number of unfinished jobs, counting those being
	// run; it never fails
	Size(ctx context.Context) int
	// History returns the most recent finished attempts, newest first
	History(ctx context.Context, limit int) ([]HistoryEntry, error)
	Close() error
}

// Outcome of one job attempt
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeFailed    Outcome = "failed"
)

// HistoryEntry records a finished attempt
type HistoryEntry struct {
	Job        Job       `json:"job"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Observer is notified after every attempt
type Observer interface {
	JobFinished(job Job, outcome Outcome, err error)
}

// Observers fans a notification out to several observers
type Observers []Observer

func (o Observers) JobFinished(job Job, outcome Outcome, err error) {
	for _, obs := range o {
		if obs != nil {
			obs.JobFinished(job, outcome, err)
		}
	}
}

// Errors
var (
	ErrClosed         = errors.New("queue: closed")
	ErrAlreadyStarted = errors.New("queue: worker already started")
)

// Config selects and tunes the implementation
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string

	InitialDelay time.Duration
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	HistoryLimit int
	LeaseTTL     time.Duration
	PollInterval time.Duration
}

// DefaultConfig returns an in-memory configuration
func DefaultConfig() Config {
	return Config{
		Prefix:       "compliance:queue",
		InitialDelay: 2 * time.Second,
		MaxAttempts:  5,
		BackoffBase:  5 * time.Second,
		BackoffMax:   5 * time.Minute,
		HistoryLimit: 100,
		LeaseTTL:     10 * time.Minute,
		PollInterval: 250 * time.Millisecond,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("queue max attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.InitialDelay < 0 || c.BackoffBase < 0 || c.BackoffMax < 0 {
		return fmt.Errorf("queue delays must not be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Prefix == "" {
		c.Prefix = d.Prefix
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = d.LeaseTTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// retryDelay returns the wait before attempt n+1 after n failed attempts
func (c Config) retryDelay(failed int) time.Duration {
	schedule := resilience.RetryConfig{
		InitialDelay: c.BackoffBase,
		Multiplier:   2,
		MaxDelay:     c.BackoffMax,
	}
	return schedule.Delay(failed - 1)
}

type options struct {
	logger   zerolog.Logger
	observer Observer
	clock    clockwork.Clock
}

// Option configures a queue
type Option func(*options)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithObserver registers an attempt observer
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithClock injects the clock used for delays
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger: zerolog.Nop(),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New returns the Redis queue when an address is configured and the
// in-memory queue otherwise
func New(cfg Config, opts ...Option) (Queue, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RedisAddr != "" {
		return NewRedis(cfg, opts...)
	}
	return NewMemory(cfg, opts...), nil
}

// prepare validates job and stamps its id and schedule
func prepare(job Job, now time.Time, delay time.Duration) (Job, error) {
	if job.TenantID == "" {
		return job, errors.New("queue: job has no tenant id")
	}
	if job.InvoiceID == "" {
		return job, errors.New("queue: job has no invoice id")
	}
	switch job.Kind {
	case "":
		job.Kind = KindProcess
	case KindProcess, KindCancel:
	default:
		return job, fmt.Errorf("queue: unknown job kind %q", job.Kind)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Attempts = 0
	job.LastError = ""
	job.EnqueuedAt = now
	job.RunAt = now.Add(delay)
	return job, nil
}

// logAttempt reports one finished attempt the same way for both queues
func logAttempt(logger zerolog.Logger, job Job, outcome Outcome, err error, next time.Duration) {
	switch outcome {
	case OutcomeSucceeded:
		logger.Info().
			Str("job_id", job.ID).
			Str("tenant_id", job.TenantID).
			Str("invoice_id", job.InvoiceID).
			Int("attempt", job.Attempts).
			Msg("job succeeded")
	case OutcomeRetrying:
		logger.Warn().Err(err).
			Str("job_id", job.ID).
			Str("tenant_id", job.TenantID).
			Str("invoice_id", job.InvoiceID).
			Int("attempt", job.Attempts).
			Dur("retry_in", next).
			Msg("job failed, retrying")
	case OutcomeFailed:
		logger.Error().Err(err).
			Str("job_id", job.ID).
			Str("tenant_id", job.TenantID).
			Str("invoice_id", job.InvoiceID).
			Int("attempt", job.Attempts).
			Msg("job failed permanently")
	}
}

// runHandler calls h and turns a panic into an error so one job cannot
// take the worker down
func runHandler(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}
