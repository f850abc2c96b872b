// Package resilience provides dial-time failover between live providers.
//
// A [Breaker] tracks consecutive dial failures of one provider. A
// [FailoverProvider] tries its providers in order and skips those whose
// breaker is open. Failover only happens while a session is being
// established; an open session that drops is not redialed.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Allow] while the breaker rejects
// attempts.
var ErrBreakerOpen = errors.New("resilience: breaker open")

// State is the state of a [Breaker].
type State int

const (
	// StateClosed lets every attempt through.
	StateClosed State = iota

	// StateOpen rejects attempts until the cool-down has passed.
	StateOpen

	// StateHalfOpen lets a single probe attempt through.
	StateHalfOpen
)

// String returns "closed", "open" or "half-open".
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// Name labels log lines.
	Name string

	// MaxFailures is the number of consecutive failures that open the
	// breaker. Default: 3.
	MaxFailures int

	// CoolDown is how long the breaker stays open before a probe is allowed.
	// Default: 30s.
	CoolDown time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	now func() time.Time
}

// Breaker is a consecutive-failure circuit breaker. Safe for concurrent use.
type Breaker struct {
	name        string
	maxFailures int
	coolDown    time.Duration
	log         *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		coolDown:    cfg.CoolDown,
		log:         cfg.Logger,
		now:         cfg.now,
	}
}

// Allow reports whether an attempt may start. Every nil return must be
// followed by exactly one [Breaker.Record]. In the half-open state only one
// attempt is allowed at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.coolDown {
			return ErrBreakerOpen
		}
		b.state = StateHalfOpen
		b.log.Info("resilience: breaker half-open", "name", b.name)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
	}
	return nil
}

// Record reports the outcome of an allowed attempt.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	probe := b.state == StateHalfOpen
	b.probing = false
	if err == nil {
		if b.state != StateClosed {
			b.log.Info("resilience: breaker closed", "name", b.name)
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.failures++
	if probe || b.failures >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
		b.log.Warn("resilience: breaker opened", "name", b.name, "consecutive_failures", b.failures, "err", err)
	}
}

// abandon releases an allowed attempt that ended without an outcome.
func (b *Breaker) abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

// State returns the current state. An open breaker whose cool-down has passed
// reports StateHalfOpen.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.coolDown {
		return StateHalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}
