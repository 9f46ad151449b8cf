package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-compliance/internal/queue"
)

// recorder is a handler that logs every attempt it sees
type recorder struct {
	mu    sync.Mutex
	seen  []string
	fail  map[string]int // remaining failures per invoice
	panic map[string]bool
}

func newRecorder() *recorder {
	return &recorder{fail: map[string]int{}, panic: map[string]bool{}}
}

func (r *recorder) handle(ctx context.Context, job queue.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, job.InvoiceID)
	if r.panic[job.InvoiceID] {
		delete(r.panic, job.InvoiceID)
		panic("boom")
	}
	if r.fail[job.InvoiceID] > 0 {
		r.fail[job.InvoiceID]--
		return errors.New("store unreachable")
	}
	return nil
}

func (r *recorder) Seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[queue.Outcome]int
}

func (o *countingObserver) JobFinished(job queue.Job, outcome queue.Outcome, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[queue.Outcome]int{}
	}
	o.outcomes[outcome]++
}

func (o *countingObserver) Count(outcome queue.Outcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[outcome]
}

func fastConfig() queue.Config {
	return queue.Config{
		InitialDelay: 5 * time.Millisecond,
		MaxAttempts:  3,
		BackoffBase:  10 * time.Millisecond,
		BackoffMax:   40 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
}

func enqueue(t *testing.T, q queue.Queue, tenant, invoice string) queue.Job {
	t.Helper()
	job, err := q.Enqueue(context.Background(), queue.Job{TenantID: tenant, InvoiceID: invoice})
	require.NoError(t, err)
	return job
}

func TestMemory_PreservesTenantOrderAcrossRetries(t *testing.T) {
	q := queue.NewMemory(fastConfig())
	defer q.Close()

	rec := newRecorder()
	rec.fail["a1"] = 1

	enqueue(t, q, "tenant-a", "a1")
	enqueue(t, q, "tenant-a", "a2")
	enqueue(t, q, "tenant-a", "a3")
	require.NoError(t, q.Start(context.Background(), rec.handle))

	assert.Eventually(t, func() bool { return len(rec.Seen()) == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a1", "a1", "a2", "a3"}, rec.Seen())
	assert.Equal(t, 0, q.Size(context.Background()))
}

func TestMemory_TerminalFailureDoesNotStopWorker(t *testing.T) {
	obs := &countingObserver{}
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	q := queue.NewMemory(cfg, queue.WithObserver(obs))
	defer q.Close()

	rec := newRecorder()
	rec.fail["bad"] = 100

	enqueue(t, q, "tenant-a", "bad")
	enqueue(t, q, "tenant-b", "good")
	require.NoError(t, q.Start(context.Background(), rec.handle))

	assert.Eventually(t, func() bool { return obs.Count(queue.OutcomeFailed) == 1 && obs.Count(queue.OutcomeSucceeded) == 1 },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, obs.Count(queue.OutcomeRetrying))

	history, err := q.History(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 3)

	var failed *queue.HistoryEntry
	for i := range history {
		if history[i].Outcome == queue.OutcomeFailed {
			failed = &history[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, "bad", failed.Job.InvoiceID)
	assert.Equal(t, 2, failed.Job.Attempts)
	assert.Equal(t, "store unreachable", failed.Error)
}

func TestMemory_InitialDelay(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialDelay = 150 * time.Millisecond
	q := queue.NewMemory(cfg)
	defer q.Close()

	rec := newRecorder()
	job := enqueue(t, q, "tenant-a", "a1")
	assert.Equal(t, job.EnqueuedAt.Add(150*time.Millisecond), job.RunAt)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, queue.KindProcess, job.Kind)

	require.NoError(t, q.Start(context.Background(), rec.handle))

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, rec.Seen())
	assert.Equal(t, 1, q.Size(context.Background()))

	assert.Eventually(t, func() bool { return len(rec.Seen()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestMemory_RecoversFromHandlerPanic(t *testing.T) {
	q := queue.NewMemory(fastConfig())
	defer q.Close()

	rec := newRecorder()
	rec.panic["a1"] = true
	enqueue(t, q, "tenant-a", "a1")
	enqueue(t, q, "tenant-a", "a2")
	require.NoError(t, q.Start(context.Background(), rec.handle))

	assert.Eventually(t, func() bool { return len(rec.Seen()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a1", "a1", "a2"}, rec.Seen())
}

func TestMemory_EnqueueValidation(t *testing.T) {
	q := queue.NewMemory(fastConfig())

	tests := []struct {
		name string
		job  queue.Job
	}{
		{name: "no tenant", job: queue.Job{InvoiceID: "x"}},
		{name: "no invoice", job: queue.Job{TenantID: "t"}},
		{name: "bad kind", job: queue.Job{TenantID: "t", InvoiceID: "x", Kind: "refund"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Enqueue(context.Background(), tt.job)
			assert.Error(t, err)
		})
	}

	require.NoError(t, q.Close())
	_, err := q.Enqueue(context.Background(), queue.Job{TenantID: "t", InvoiceID: "x"})
	assert.ErrorIs(t, err, queue.ErrClosed)
}

func TestMemory_StartTwice(t *testing.T) {
	q := queue.NewMemory(fastConfig())
	defer q.Close()

	require.NoError(t, q.Start(context.Background(), newRecorder().handle))
	assert.ErrorIs(t, q.Start(context.Background(), newRecorder().handle), queue.ErrAlreadyStarted)
}

func TestNew_SelectsImplementation(t *testing.T) {
	q, err := queue.New(fastConfig())
	require.NoError(t, err)
	assert.IsType(t, &queue.Memory{}, q)
	require.NoError(t, q.Close())

	cfg := fastConfig()
	cfg.RedisAddr = "127.0.0.1:6399"
	q, err = queue.New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &queue.Redis{}, q)
	require.NoError(t, q.Close())

	cfg.MaxAttempts = -1
	_, err = queue.New(cfg)
	assert.Error(t, err)
}
