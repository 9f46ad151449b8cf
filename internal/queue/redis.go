package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// claimPageSize is how many due tenants the claim script reads per step
const claimPageSize = 16

// Entries in a tenant list are "<run-at unix ms>|<job json>" so the
// scripts can reschedule a tenant without decoding JSON.
var enqueueScript = redis.NewScript(`
redis.call("RPUSH", KEYS[1], ARGV[1])
if redis.call("LLEN", KEYS[1]) == 1 then
  redis.call("ZADD", KEYS[2], ARGV[3], ARGV[2])
end
return redis.call("INCR", KEYS[3])
`)

// claimScript leases the first due tenant that no other worker holds and
// returns its head entry. The entry stays in the list until acked. Due
// tenants are scanned a page at a time so leased ones cannot hide the rest.
var claimScript = redis.NewScript(`
local offset = 0
local page = tonumber(ARGV[5])
while true do
  local tenants = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", offset, page)
  if #tenants == 0 then
    return false
  end
  local removed = 0
  for _, tenant in ipairs(tenants) do
    local lease = ARGV[2] .. ":lease:" .. tenant
    if redis.call("SET", lease, ARGV[3], "NX", "PX", ARGV[4]) then
      local entry = redis.call("LINDEX", ARGV[2] .. ":tenant:" .. tenant, 0)
      if entry then
        return {tenant, entry}
      end
      redis.call("ZREM", KEYS[1], tenant)
      redis.call("DEL", lease)
      removed = removed + 1
    end
  end
  offset = offset + #tenants - removed
end
`)

// ackScript removes the head entry, reschedules the tenant from its next
// head, releases the lease and records history
var ackScript = redis.NewScript(`
redis.call("LPOP", KEYS[1])
redis.call("DECR", KEYS[3])
local head = redis.call("LINDEX", KEYS[1], 0)
if head then
  local sep = string.find(head, "|", 1, true)
  redis.call("ZADD", KEYS[2], string.sub(head, 1, sep - 1), ARGV[1])
else
  redis.call("ZREM", KEYS[2], ARGV[1])
end
if redis.call("GET", KEYS[4]) == ARGV[2] then
  redis.call("DEL", KEYS[4])
end
redis.call("LPUSH", KEYS[5], ARGV[3])
redis.call("LTRIM", KEYS[5], 0, tonumber(ARGV[4]) - 1)
return 1
`)

// retryScript rewrites the head entry with its new schedule
var retryScript = redis.NewScript(`
redis.call("LSET", KEYS[1], 0, ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[4], ARGV[1])
if redis.call("GET", KEYS[3]) == ARGV[2] then
  redis.call("DEL", KEYS[3])
end
redis.call("LPUSH", KEYS[4], ARGV[5])
redis.call("LTRIM", KEYS[4], 0, tonumber(ARGV[6]) - 1)
return 1
`)

// Redis is the durable queue. Each tenant has a list of jobs; a sorted set
// scores tenants by when their head job is due, and a lease key per tenant
// keeps a tenant on one worker at a time across processes. When Redis
// cannot be reached, jobs go to an embedded Memory queue.
type Redis struct {
	client   *redis.Client
	cfg      Config
	logger   zerolog.Logger
	observer Observer
	clock    clockwork.Clock
	fallback *Memory
	workerID string

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ Queue = (*Redis)(nil)

// NewRedis connects to the configured Redis
func NewRedis(cfg Config, opts ...Option) (*Redis, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.New("queue: redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisWithClient(client, cfg, opts...), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, cfg Config, opts ...Option) *Redis {
	cfg = cfg.withDefaults()
	o := newOptions(opts)
	return &Redis{
		client:   client,
		cfg:      cfg,
		logger:   o.logger.With().Str("queue", "redis").Logger(),
		observer: o.observer,
		clock:    o.clock,
		fallback: NewMemory(cfg, opts...),
		workerID: uuid.NewString(),
	}
}

func (r *Redis) tenantKey(tenant string) string { return r.cfg.Prefix + ":tenant:" + tenant }
func (r *Redis) leaseKey(tenant string) string  { return r.cfg.Prefix + ":lease:" + tenant }
func (r *Redis) readyKey() string               { return r.cfg.Prefix + ":ready" }
func (r *Redis) sizeKey() string                { return r.cfg.Prefix + ":size" }
func (r *Redis) historyKey() string             { return r.cfg.Prefix + ":history" }

// Ping checks connectivity
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Enqueue stores job in Redis, or in the memory fallback if Redis fails
func (r *Redis) Enqueue(ctx context.Context, job Job) (Job, error) {
	if err := ctx.Err(); err != nil {
		return job, err
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return job, ErrClosed
	}

	job, err := prepare(job, r.clock.Now(), r.cfg.InitialDelay)
	if err != nil {
		return job, err
	}

	entry, err := encodeEntry(job)
	if err != nil {
		return job, err
	}

	err = enqueueScript.Run(ctx, r.client,
		[]string{r.tenantKey(job.TenantID), r.readyKey(), r.sizeKey()},
		entry, job.TenantID, job.RunAt.UnixMilli(),
	).Err()
	if err != nil {
		r.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Str("tenant_id", job.TenantID).
			Msg("redis unavailable, using in-memory queue")
		if ferr := r.fallback.push(job); ferr != nil {
			return job, ferr
		}
		return job, nil
	}

	r.logger.Debug().
		Str("job_id", job.ID).
		Str("tenant_id", job.TenantID).
		Str("invoice_id", job.InvoiceID).
		Time("run_at", job.RunAt).
		Msg("job enqueued")
	return job, nil
}

// Size reads the Redis counter and adds the fallback's jobs. The counter
// drops on ack, so a job being run is still counted. If Redis cannot
// answer, only the fallback's count is reported.
func (r *Redis) Size(ctx context.Context) int {
	local := r.fallback.Size(ctx)
	n, err := r.client.Get(ctx, r.sizeKey()).Int()
	if errors.Is(err, redis.Nil) {
		return local
	}
	if err != nil {
		r.logger.Debug().Err(err).Msg("redis size unavailable, reporting in-memory size")
		return local
	}
	return n + local
}

// History merges Redis and fallback history, newest first
func (r *Redis) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = r.cfg.HistoryLimit
	}

	local, _ := r.fallback.History(ctx, limit)

	raw, err := r.client.LRange(ctx, r.historyKey(), 0, int64(limit-1)).Result()
	if err != nil {
		r.logger.Debug().Err(err).Msg("redis history unavailable")
		return local, nil
	}

	out := make([]HistoryEntry, 0, len(raw)+len(local))
	for _, item := range raw {
		var e HistoryEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	out = append(out, local...)
	sortHistory(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Start launches the Redis poller and the fallback worker
func (r *Redis) Start(ctx context.Context, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true

	if err := r.fallback.Start(ctx, h); err != nil {
		return err
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run(ctx, h)
	return nil
}

// Close stops both workers and closes the client
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	_ = r.fallback.Close()
	return r.client.Close()
}

func (r *Redis) run(ctx context.Context, h Handler) {
	defer r.wg.Done()
	r.logger.Info().Str("worker_id", r.workerID).Msg("queue worker started")

	ticker := r.clock.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// drain everything due before sleeping
		for {
			if ctx.Err() != nil {
				break
			}
			claimed, err := r.claimAndRun(ctx, h)
			if err != nil {
				r.logger.Warn().Err(err).Msg("queue poll failed")
				break
			}
			if !claimed {
				break
			}
		}

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("queue worker stopped")
			return
		case <-ticker.Chan():
		}
	}
}

func (r *Redis) claimAndRun(ctx context.Context, h Handler) (bool, error) {
	res, err := claimScript.Run(ctx, r.client, []string{r.readyKey()},
		r.clock.Now().UnixMilli(), r.cfg.Prefix, r.workerID, r.cfg.LeaseTTL.Milliseconds(), claimPageSize,
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(res) != 2 {
		return false, fmt.Errorf("queue: unexpected claim reply %v", res)
	}

	tenant := res[0]
	job, err := decodeEntry(res[1])
	if err != nil {
		// drop the poison entry so the tenant is not blocked forever
		r.logger.Error().Err(err).Str("tenant_id", tenant).Msg("undecodable job entry dropped")
		bad := Job{TenantID: tenant}
		return true, r.ack(ctx, bad, OutcomeFailed, err)
	}

	job.Attempts++
	herr := runHandler(ctx, h, job)
	now := r.clock.Now()

	switch {
	case herr == nil:
		logAttempt(r.logger, job, OutcomeSucceeded, nil, 0)
		r.notify(job, OutcomeSucceeded, nil)
		return true, r.ack(ctx, job, OutcomeSucceeded, nil)

	case job.Attempts >= r.cfg.MaxAttempts:
		job.LastError = herr.Error()
		logAttempt(r.logger, job, OutcomeFailed, herr, 0)
		r.notify(job, OutcomeFailed, herr)
		return true, r.ack(ctx, job, OutcomeFailed, herr)

	default:
		job.LastError = herr.Error()
		delay := r.cfg.retryDelay(job.Attempts)
		job.RunAt = now.Add(delay)
		logAttempt(r.logger, job, OutcomeRetrying, herr, delay)
		r.notify(job, OutcomeRetrying, herr)
		return true, r.retry(ctx, job, herr)
	}
}

func (r *Redis) notify(job Job, outcome Outcome, err error) {
	if r.observer != nil {
		r.observer.JobFinished(job, outcome, err)
	}
}

// bookkeeping must not be lost to a cancelled worker context
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

func (r *Redis) ack(ctx context.Context, job Job, outcome Outcome, cause error) error {
	hist, err := r.historyEntry(job, outcome, cause)
	if err != nil {
		return err
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	return ackScript.Run(ctx, r.client,
		[]string{r.tenantKey(job.TenantID), r.readyKey(), r.sizeKey(), r.leaseKey(job.TenantID), r.historyKey()},
		job.TenantID, r.workerID, hist, r.cfg.HistoryLimit,
	).Err()
}

func (r *Redis) retry(ctx context.Context, job Job, cause error) error {
	entry, err := encodeEntry(job)
	if err != nil {
		return err
	}
	hist, err := r.historyEntry(job, OutcomeRetrying, cause)
	if err != nil {
		return err
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	return retryScript.Run(ctx, r.client,
		[]string{r.tenantKey(job.TenantID), r.readyKey(), r.leaseKey(job.TenantID), r.historyKey()},
		job.TenantID, r.workerID, entry, job.RunAt.UnixMilli(), hist, r.cfg.HistoryLimit,
	).Err()
}

func (r *Redis) historyEntry(job Job, outcome Outcome, cause error) (string, error) {
	e := HistoryEntry{Job: job, Outcome: outcome, FinishedAt: r.clock.Now()}
	if cause != nil {
		e.Error = cause.Error()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("queue: failed to encode history: %w", err)
	}
	return string(data), nil
}

func encodeEntry(job Job) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("queue: failed to encode job: %w", err)
	}
	return strconv.FormatInt(job.RunAt.UnixMilli(), 10) + "|" + string(data), nil
}

func decodeEntry(entry string) (Job, error) {
	_, payload, ok := strings.Cut(entry, "|")
	if !ok {
		return Job{}, fmt.Errorf("queue: malformed entry %q", entry)
	}
	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return Job{}, fmt.Errorf("queue: failed to decode job: %w", err)
	}
	return job, nil
}

func sortHistory(entries []HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].FinishedAt.After(entries[j].FinishedAt)
	})
}
