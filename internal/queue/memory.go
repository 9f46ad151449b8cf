package queue

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Memory is the in-process queue. One worker drains every tenant
// partition; only the head job of a partition is eligible, so a failed job
// holds back later jobs of its tenant until it succeeds or gives up.
type Memory struct {
	cfg      Config
	logger   zerolog.Logger
	observer Observer
	clock    clockwork.Clock

	mu         sync.Mutex
	partitions map[string][]Job
	pending    int
	history    []HistoryEntry
	closed     bool
	started    bool
	wake       chan struct{}
	stop       chan struct{}
	done       chan struct{}
}

var _ Queue = (*Memory)(nil)

// NewMemory creates an in-memory queue
func NewMemory(cfg Config, opts ...Option) *Memory {
	o := newOptions(opts)
	return &Memory{
		cfg:        cfg.withDefaults(),
		logger:     o.logger.With().Str("queue", "memory").Logger(),
		observer:   o.observer,
		clock:      o.clock,
		partitions: make(map[string][]Job),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Enqueue appends job to its tenant partition
func (m *Memory) Enqueue(ctx context.Context, job Job) (Job, error) {
	if err := ctx.Err(); err != nil {
		return job, err
	}
	job, err := prepare(job, m.clock.Now(), m.cfg.InitialDelay)
	if err != nil {
		return job, err
	}
	if err := m.push(job); err != nil {
		return job, err
	}

	m.logger.Debug().
		Str("job_id", job.ID).
		Str("tenant_id", job.TenantID).
		Str("invoice_id", job.InvoiceID).
		Time("run_at", job.RunAt).
		Msg("job enqueued")
	return job, nil
}

// push appends an already prepared job
func (m *Memory) push(job Job) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.partitions[job.TenantID] = append(m.partitions[job.TenantID], job)
	m.pending++
	m.mu.Unlock()
	m.signal()
	return nil
}

// Size returns the number of unfinished jobs, including one being run
func (m *Memory) Size(ctx context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// History returns recent attempts, newest first
func (m *Memory) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]HistoryEntry, 0, limit)
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.history[i])
	}
	return out, nil
}

// Start launches the single worker
func (m *Memory) Start(ctx context.Context, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true

	go m.run(ctx, h)
	return nil
}

// Close stops the worker after the job in flight, if any
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	started := m.started
	close(m.stop)
	m.mu.Unlock()

	if started {
		<-m.done
	}
	return nil
}

func (m *Memory) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Memory) run(ctx context.Context, h Handler) {
	defer close(m.done)
	m.logger.Info().Msg("queue worker started")

	for {
		job, wait, ok := m.next()
		if ok {
			m.execute(ctx, h, job)
			continue
		}

		var timer clockwork.Timer
		var fire <-chan time.Time
		if wait > 0 {
			timer = m.clock.NewTimer(wait)
			fire = timer.Chan()
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			m.logger.Info().Msg("queue worker stopped")
			return
		case <-m.stop:
			stopTimer(timer)
			m.logger.Info().Msg("queue worker stopped")
			return
		case <-m.wake:
		case <-fire:
		}
		stopTimer(timer)
	}
}

func stopTimer(t clockwork.Timer) {
	if t != nil {
		t.Stop()
	}
}

// next pops the due partition head with the earliest run time. When none
// is due it returns how long until the earliest becomes due, or 0 if the
// queue is empty.
func (m *Memory) next() (Job, time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var (
		tenant string
		best   Job
		found  bool
	)
	for t, jobs := range m.partitions {
		head := jobs[0]
		if !found || head.RunAt.Before(best.RunAt) ||
			head.RunAt.Equal(best.RunAt) && head.EnqueuedAt.Before(best.EnqueuedAt) {
			tenant, best, found = t, head, true
		}
	}
	if !found {
		return Job{}, 0, false
	}
	if best.RunAt.After(now) {
		return Job{}, best.RunAt.Sub(now), false
	}

	rest := m.partitions[tenant][1:]
	if len(rest) == 0 {
		delete(m.partitions, tenant)
	} else {
		m.partitions[tenant] = rest
	}
	return best, 0, true
}

func (m *Memory) execute(ctx context.Context, h Handler, job Job) {
	job.Attempts++
	err := runHandler(ctx, h, job)
	now := m.clock.Now()

	if err == nil {
		m.finish(job, OutcomeSucceeded, nil, now, 0)
		return
	}

	job.LastError = err.Error()
	if job.Attempts >= m.cfg.MaxAttempts {
		m.finish(job, OutcomeFailed, err, now, 0)
		return
	}

	delay := m.cfg.retryDelay(job.Attempts)
	job.RunAt = now.Add(delay)
	m.requeueHead(job)
	m.finish(job, OutcomeRetrying, err, now, delay)
}

// requeueHead puts job back in front of its partition
func (m *Memory) requeueHead(job Job) {
	m.mu.Lock()
	m.partitions[job.TenantID] = append([]Job{job}, m.partitions[job.TenantID]...)
	m.mu.Unlock()
}

func (m *Memory) finish(job Job, outcome Outcome, err error, at time.Time, next time.Duration) {
	entry := HistoryEntry{Job: job, Outcome: outcome, FinishedAt: at}
	if err != nil {
		entry.Error = err.Error()
	}

	m.mu.Lock()
	if outcome != OutcomeRetrying {
		m.pending--
	}
	m.history = append(m.history, entry)
	if over := len(m.history) - m.cfg.HistoryLimit; over > 0 {
		m.history = append([]HistoryEntry(nil), m.history[over:]...)
	}
	m.mu.Unlock()

	logAttempt(m.logger, job, outcome, err, next)
	if m.observer != nil {
		m.observer.JobFinished(job, outcome, err)
	}
}
