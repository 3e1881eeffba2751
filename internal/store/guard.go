package store

import (
	"context"
	"errors"
	"sync"
	"time"

	cerrors "github.com/tommygoverstreet/smart-spreadsheet2025/pkg/errors"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/utils"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig configures the circuit breaker in front of a durable backend.
type BreakerConfig struct {
	Enabled bool `yaml:"enabled"`
	// Requests allowed through while half-open.
	MaxRequests uint32 `yaml:"max_requests"`
	// Period after which closed-state counts reset.
	Interval time.Duration `yaml:"interval"`
	// Time spent open before probing again.
	Timeout time.Duration `yaml:"timeout"`
	// Consecutive failures that trip the breaker.
	FailureThreshold uint32 `yaml:"failure_threshold"`
}

// Counts holds request outcomes for the current breaker generation.
type Counts struct {
	Requests             uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker is a closed/open/half-open circuit breaker.
type Breaker struct {
	name     string
	config   BreakerConfig
	now      func() time.Time
	onChange func(name string, from, to BreakerState)

	mu     sync.Mutex
	state  BreakerState
	counts Counts
	expiry time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}

	b := &Breaker{name: name, config: config, now: time.Now}
	b.expiry = b.now().Add(config.Interval)
	return b
}

// Execute runs fn if the breaker admits the request.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	b.afterRequest(err)
	return err
}

// State returns the current state, advancing open to half-open once the timeout elapses.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(b.now())
}

// Counts returns a copy of the current counts.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState(b.now())
	if state == StateOpen {
		return cerrors.NewError(cerrors.ErrCodeCircuitOpen, "circuit breaker is open").
			WithComponent("store.guard").WithContext("breaker", b.name)
	}
	if state == StateHalfOpen && b.counts.Requests >= b.config.MaxRequests {
		return cerrors.NewError(cerrors.ErrCodeCircuitOpen, "too many requests in half-open state").
			WithComponent("store.guard").WithContext("breaker", b.name)
	}

	b.counts.Requests++
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state := b.currentState(now)

	if err == nil {
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			b.setState(StateClosed, now)
		}
		return
	}

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.config.FailureThreshold {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

func (b *Breaker) currentState(now time.Time) BreakerState {
	switch b.state {
	case StateClosed:
		if b.expiry.Before(now) {
			b.counts = Counts{}
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) setState(state BreakerState, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.counts = Counts{}

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.config.Interval)
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.onChange != nil {
		b.onChange(b.name, prev, state)
	}
}

// GuardConfig configures Guard.
type GuardConfig struct {
	Name string
	// Timeout bounds each operation; 0 leaves the caller's deadline alone.
	Timeout time.Duration
	Breaker BreakerConfig
}

// GuardedStore wraps a Store with per-operation timeouts and an optional circuit breaker.
type GuardedStore struct {
	inner   Store
	timeout time.Duration
	breaker *Breaker
}

// Guard wraps s. Close always reaches the inner store.
func Guard(s Store, cfg GuardConfig, logger *utils.StructuredLogger) *GuardedStore {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	g := &GuardedStore{inner: s, timeout: cfg.Timeout}
	if cfg.Breaker.Enabled {
		log := logger.WithComponent("store.guard")
		g.breaker = NewBreaker(cfg.Name, cfg.Breaker)
		g.breaker.onChange = func(name string, from, to BreakerState) {
			log.Warn("durable store breaker changed state", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		}
	}
	return g
}

// Breaker returns the breaker, or nil when disabled.
func (g *GuardedStore) Breaker() *Breaker {
	return g.breaker
}

func (g *GuardedStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	run := func() error {
		if g.timeout <= 0 {
			return fn(ctx)
		}
		opCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		err := fn(opCtx)
		if err != nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return cerrors.Wrap(err, cerrors.ErrCodeStoreTimeout, "durable operation timed out").
				WithComponent("store.guard").WithOperation(op)
		}
		return err
	}
	if g.breaker == nil {
		return run()
	}
	return g.breaker.Execute(run)
}

func (g *GuardedStore) Put(ctx context.Context, collection string, rec *Record) error {
	return g.do(ctx, "put", func(ctx context.Context) error {
		return g.inner.Put(ctx, collection, rec)
	})
}

func (g *GuardedStore) Get(ctx context.Context, collection, key string) (*Record, error) {
	var rec *Record
	err := g.do(ctx, "get", func(ctx context.Context) error {
		var err error
		rec, err = g.inner.Get(ctx, collection, key)
		return err
	})
	return rec, err
}

func (g *GuardedStore) Delete(ctx context.Context, collection, key string) error {
	return g.do(ctx, "delete", func(ctx context.Context) error {
		return g.inner.Delete(ctx, collection, key)
	})
}

func (g *GuardedStore) Clear(ctx context.Context, collection string) error {
	return g.do(ctx, "clear", func(ctx context.Context) error {
		return g.inner.Clear(ctx, collection)
	})
}

func (g *GuardedStore) Touch(ctx context.Context, collection, key string, at time.Time) error {
	return g.do(ctx, "touch", func(ctx context.Context) error {
		return g.inner.Touch(ctx, collection, key, at)
	})
}

func (g *GuardedStore) Keys(ctx context.Context, collection string, q Query) ([]string, error) {
	var keys []string
	err := g.do(ctx, "keys", func(ctx context.Context) error {
		var err error
		keys, err = g.inner.Keys(ctx, collection, q)
		return err
	})
	return keys, err
}

func (g *GuardedStore) Ping(ctx context.Context) error {
	return g.do(ctx, "ping", g.inner.Ping)
}

func (g *GuardedStore) Close() error {
	return g.inner.Close()
}
