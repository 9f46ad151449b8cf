package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// State is the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BreakerConfig holds circuit breaker thresholds
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the circuit
	FailureThreshold int
	// SuccessThreshold consecutive half-open trial successes close it
	SuccessThreshold int
	// Cooldown is how long the circuit stays open before a trial
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the standard thresholds
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         60 * time.Second,
	}
}

// Validate checks the thresholds
func (c BreakerConfig) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure threshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("breaker success threshold must be >= 1, got %d", c.SuccessThreshold)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("breaker cooldown must not be negative, got %s", c.Cooldown)
	}
	return nil
}

// Snapshot is a point-in-time view of the breaker
type Snapshot struct {
	Name      string     `json:"name"`
	State     State      `json:"state"`
	Failures  int        `json:"consecutive_failures"`
	Successes int        `json:"consecutive_successes"`
	OpenedAt  *time.Time `json:"opened_at,omitempty"`
	RetryAt   *time.Time `json:"retry_at,omitempty"`
}

// StateChangeFunc observes breaker transitions
type StateChangeFunc func(name string, from, to State)

// Breaker is a consecutive-failure circuit breaker
type Breaker struct {
	name      string
	cfg       BreakerConfig
	clock     clockwork.Clock
	logger    zerolog.Logger
	isFailure func(error) bool
	hooks     []StateChangeFunc

	mu            sync.Mutex
	state         State
	generation    uint64
	failures      int
	successes     int
	openedAt      time.Time
	trialInFlight bool
}

// BreakerOption configures a Breaker
type BreakerOption func(*Breaker)

// WithBreakerClock injects the clock used for the cooldown
func WithBreakerClock(c clockwork.Clock) BreakerOption {
	return func(b *Breaker) {
		b.clock = c
	}
}

// WithBreakerLogger sets the logger
func WithBreakerLogger(l zerolog.Logger) BreakerOption {
	return func(b *Breaker) {
		b.logger = l
	}
}

// WithBreakerName names the breaker in logs and snapshots
func WithBreakerName(name string) BreakerOption {
	return func(b *Breaker) {
		b.name = name
	}
}

// WithFailurePredicate decides which errors count as failures.
// The default counts retryable errors only.
func WithFailurePredicate(fn func(error) bool) BreakerOption {
	return func(b *Breaker) {
		b.isFailure = fn
	}
}

// OnStateChange registers a transition hook
func OnStateChange(fn StateChangeFunc) BreakerOption {
	return func(b *Breaker) {
		b.hooks = append(b.hooks, fn)
	}
}

// NewBreaker creates a closed breaker
func NewBreaker(cfg BreakerConfig, opts ...BreakerOption) *Breaker {
	b := &Breaker{
		name:      "authority",
		cfg:       cfg,
		clock:     clockwork.NewRealClock(),
		logger:    zerolog.Nop(),
		isFailure: IsRetryable,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnStateChange registers a transition hook after construction
func (b *Breaker) OnStateChange(fn StateChangeFunc) {
	b.mu.Lock()
	b.hooks = append(b.hooks, fn)
	b.mu.Unlock()
}

type transition struct {
	from, to State
}

// State returns the current state, moving OPEN to HALF_OPEN once the
// cooldown has elapsed
func (b *Breaker) State() State {
	b.mu.Lock()
	t := b.refresh()
	state := b.state
	b.mu.Unlock()
	b.notify(t)
	return state
}

// Snapshot returns the current counters
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	t := b.refresh()
	s := Snapshot{
		Name:      b.name,
		State:     b.state,
		Failures:  b.failures,
		Successes: b.successes,
	}
	if b.state == StateOpen {
		opened := b.openedAt
		retry := opened.Add(b.cfg.Cooldown)
		s.OpenedAt = &opened
		s.RetryAt = &retry
	}
	b.mu.Unlock()
	b.notify(t)
	return s
}

// Do runs fn if the breaker admits the call
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	done, err := b.allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	done(err)
	return err
}

// Guard decorates op with the breaker
func Guard[T any](b *Breaker, op Operation[T]) Operation[T] {
	return func(ctx context.Context) (T, error) {
		var out T
		err := b.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = op(ctx)
			return err
		})
		return out, err
	}
}

// allow admits or rejects a call. The returned func records its result.
func (b *Breaker) allow() (func(error), error) {
	b.mu.Lock()
	t := b.refresh()

	switch b.state {
	case StateOpen:
		b.mu.Unlock()
		b.notify(t)
		return nil, ErrCircuitOpen
	case StateHalfOpen:
		if b.trialInFlight {
			b.mu.Unlock()
			b.notify(t)
			return nil, ErrCircuitOpen
		}
		b.trialInFlight = true
	}

	gen := b.generation
	b.mu.Unlock()
	b.notify(t)

	return func(err error) { b.record(gen, err) }, nil
}

func (b *Breaker) record(gen uint64, err error) {
	b.mu.Lock()
	if b.state == StateHalfOpen && gen == b.generation {
		b.trialInFlight = false
	}
	// result of a call admitted under an earlier state
	if gen != b.generation {
		b.mu.Unlock()
		return
	}

	var t *transition
	switch {
	case errors.Is(err, context.Canceled):
		// caller gave up; says nothing about the service
	case err != nil && b.isFailure(err):
		t = b.onFailure()
	default:
		t = b.onSuccess()
	}
	b.mu.Unlock()
	b.notify(t)
}

func (b *Breaker) onFailure() *transition {
	b.successes = 0
	switch b.state {
	case StateHalfOpen:
		return b.setState(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			return b.setState(StateOpen)
		}
	}
	return nil
}

func (b *Breaker) onSuccess() *transition {
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			return b.setState(StateClosed)
		}
	case StateClosed:
		b.failures = 0
	}
	return nil
}

// refresh moves an expired OPEN circuit to HALF_OPEN; mu must be held
func (b *Breaker) refresh() *transition {
	if b.state == StateOpen && !b.clock.Now().Before(b.openedAt.Add(b.cfg.Cooldown)) {
		return b.setState(StateHalfOpen)
	}
	return nil
}

// setState resets counters for the new state; mu must be held
func (b *Breaker) setState(to State) *transition {
	from := b.state
	b.state = to
	b.generation++
	b.failures = 0
	b.successes = 0
	b.trialInFlight = false
	if to == StateOpen {
		b.openedAt = b.clock.Now()
	}
	return &transition{from: from, to: to}
}

func (b *Breaker) notify(t *transition) {
	if t == nil {
		return
	}

	b.logger.Warn().
		Str("breaker", b.name).
		Str("from", t.from.String()).
		Str("state", t.to.String()).
		Msg("circuit breaker state changed")

	b.mu.Lock()
	hooks := make([]StateChangeFunc, len(b.hooks))
	copy(hooks, b.hooks)
	b.mu.Unlock()

	for _, h := range hooks {
		h(b.name, t.from, t.to)
	}
}
