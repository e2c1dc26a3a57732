// Package resilience provides retry with backoff and per-source circuit
// breakers for outbound calls made by the ingestion pipeline.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is the state of a single source breaker.
type BreakerState int

const (
	// BreakerClosed lets calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen lets one probe through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned when a source has been cut off.
var ErrBreakerOpen = eris.New("resilience: source breaker is open")

// BreakerConfig controls when a source is cut off.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failed calls that opens
	// the breaker.
	FailureThreshold int
	// Cooldown is how long an open breaker waits before a probe.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the defaults used for source breakers.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 60 * time.Second}
}

// NewBreakerConfig builds a BreakerConfig from config values.
func NewBreakerConfig(failureThreshold, cooldownSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}

// Breaker trips after repeated failures of one source so later states skip
// a source that is down instead of burning their retry budget on it.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewBreaker creates a closed breaker for the named source.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	d := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = d.Cooldown
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Call runs fn unless the breaker is open.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := CallVal(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// CallVal is Call for operations that produce a value.
func CallVal[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ok, probe := b.allow()
	if !ok {
		return zero, eris.Wrapf(ErrBreakerOpen, "source %s", b.name)
	}
	// A panicking fn still counts as a failure so a probe is never left in
	// flight.
	recorded := false
	defer func() {
		if !recorded {
			b.record(ctx, eris.Errorf("resilience: %s call panicked", b.name), probe)
		}
	}()
	val, err := fn(ctx)
	recorded = true
	b.record(ctx, err, probe)
	return val, err
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// allow admits a call and reports whether it is the probe. A half-open
// breaker admits a single probe and turns other callers away until that
// probe is recorded.
func (b *Breaker) allow() (ok, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return true, false
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, false
		}
		b.setState(BreakerHalfOpen)
	}
	if b.probing {
		return false, false
	}
	b.probing = true
	return true, true
}

func (b *Breaker) record(ctx context.Context, err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}

	// A cancelled run says nothing about the source.
	if err != nil && ctx.Err() != nil {
		return
	}
	if err == nil {
		b.failures = 0
		if b.state != BreakerClosed {
			b.setState(BreakerClosed)
		}
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		if b.state != BreakerOpen {
			b.setState(BreakerOpen)
		}
	}
}

func (b *Breaker) setState(to BreakerState) {
	zap.L().Info("source breaker state change",
		zap.String("source", b.name),
		zap.String("from", b.state.String()),
		zap.String("to", to.String()),
	)
	b.state = to
}

// Breakers holds one Breaker per source name.
type Breakers struct {
	cfg BreakerConfig

	mu sync.Mutex
	m  map[string]*Breaker
}

// NewBreakers creates an empty registry.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, m: make(map[string]*Breaker)}
}

// Get returns the breaker for source, creating it on first use.
func (bs *Breakers) Get(source string) *Breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b, ok := bs.m[source]
	if !ok {
		b = NewBreaker(source, bs.cfg)
		bs.m[source] = b
	}
	return b
}

// States returns a snapshot of every breaker's state.
func (bs *Breakers) States() map[string]BreakerState {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	out := make(map[string]BreakerState, len(bs.m))
	for name, b := range bs.m {
		out[name] = b.State()
	}
	return out
}
